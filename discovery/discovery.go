// Package discovery walks a directory tree and builds the suite tree of Go
// test functions that the partitioner consumes.
package discovery

import (
	"fmt"
	"go/build"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// DefaultPattern matches every Go test file
const DefaultPattern = "*_test.go"

// Options controls where and how tests are discovered
type Options struct {
	StartDir    string // Directory to start discovery from
	Pattern     string // Glob matched against test file base names
	TopLevelDir string // Root used to name packages outside any module, defaults to StartDir
}

// Discover builds the suite tree rooted at opts.StartDir. The tree is ordered
// by package directory, then file name, then declaration order. It returns
// the tree and the number of tests in it.
func Discover(opts Options) (*types.SuiteNode, int, error) {
	if opts.StartDir == "" {
		opts.StartDir = "."
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if _, err := filepath.Match(opts.Pattern, "x_test.go"); err != nil {
		return nil, 0, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}

	startDir, err := filepath.Abs(opts.StartDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	info, err := os.Stat(startDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat start directory: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("start directory %s is not a directory", startDir)
	}

	topLevelDir := startDir
	if opts.TopLevelDir != "" {
		if topLevelDir, err = filepath.Abs(opts.TopLevelDir); err != nil {
			return nil, 0, fmt.Errorf("failed to resolve top level directory: %w", err)
		}
		if rel, err := filepath.Rel(topLevelDir, startDir); err != nil || strings.HasPrefix(rel, "..") {
			return nil, 0, fmt.Errorf("start directory %s is not inside top level directory %s", startDir, topLevelDir)
		}
	}

	filesByDir, err := collectTestFiles(startDir, opts.Pattern)
	if err != nil {
		return nil, 0, err
	}

	dirs := make([]string, 0, len(filesByDir))
	for dir := range filesByDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	resolver := newModuleResolver(topLevelDir)
	fset := token.NewFileSet()
	root := types.NewGroup(filepath.Base(startDir), types.LevelRoot)
	root.Dir = startDir

	for _, dir := range dirs {
		pkgNode, err := buildPackage(fset, resolver, dir, filesByDir[dir])
		if err != nil {
			return nil, 0, err
		}
		root.Children = append(root.Children, pkgNode)
	}

	return root, root.CountTests(), nil
}

// collectTestFiles returns the matching test files grouped by directory
func collectTestFiles(startDir, pattern string) (map[string][]string, error) {
	filesByDir := make(map[string][]string)
	err := filepath.WalkDir(startDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != startDir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, "_test.go") {
			return nil
		}
		if ok, _ := filepath.Match(pattern, name); !ok {
			return nil
		}
		dir := filepath.Dir(path)
		if ok, err := build.Default.MatchFile(dir, name); err != nil || !ok {
			return nil
		}
		filesByDir[dir] = append(filesByDir[dir], name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", startDir, err)
	}
	return filesByDir, nil
}

// skipDir mirrors the directories the go tool ignores
func skipDir(name string) bool {
	return name == "vendor" || name == "testdata" ||
		strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func buildPackage(fset *token.FileSet, resolver *moduleResolver, dir string, files []string) (*types.SuiteNode, error) {
	importPath, err := resolver.importPath(dir)
	if err != nil {
		return nil, err
	}

	pkgNode := types.NewGroup(importPath, types.LevelPackage)
	pkgNode.Package = importPath
	pkgNode.Dir = dir

	sort.Strings(files)
	for _, file := range files {
		names, err := findTestFunctions(fset, filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		fileNode := types.NewGroup(file, types.LevelFile)
		fileNode.Package = importPath
		fileNode.Dir = dir
		for _, name := range names {
			fileNode.Children = append(fileNode.Children, types.NewLeaf(types.TestRef{
				Package: importPath,
				Dir:     dir,
				File:    file,
				Name:    name,
			}))
		}
		pkgNode.Children = append(pkgNode.Children, fileNode)
	}
	return pkgNode, nil
}
