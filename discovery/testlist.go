package discovery

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/mod/modfile"
)

// findTestFunctions parses a _test.go file and returns its top-level test
// functions in declaration order
func findTestFunctions(fset *token.FileSet, filePath string) ([]string, error) {
	f, err := parser.ParseFile(fset, filePath, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	testingNames, dotImport := testingImportNames(f)
	if len(testingNames) == 0 && !dotImport {
		return nil, nil
	}

	var testFunctions []string
	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil {
			continue
		}
		name := funcDecl.Name.Name
		if name == "TestMain" || !isTestName(name) {
			continue
		}
		if !takesTestingT(funcDecl.Type, testingNames, dotImport) {
			continue
		}
		testFunctions = append(testFunctions, name)
	}
	return testFunctions, nil
}

// testingImportNames returns the local names the "testing" package is
// imported under, and whether it is dot-imported
func testingImportNames(f *ast.File) (names map[string]bool, dot bool) {
	names = make(map[string]bool)
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path != "testing" {
			continue
		}
		switch {
		case imp.Name == nil:
			names["testing"] = true
		case imp.Name.Name == ".":
			dot = true
		case imp.Name.Name != "_":
			names[imp.Name.Name] = true
		}
	}
	return names, dot
}

// isTestName follows the go test rule: "Test" followed by nothing or by a
// character that is not a lower-case letter
func isTestName(name string) bool {
	if !strings.HasPrefix(name, "Test") {
		return false
	}
	if len(name) == len("Test") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len("Test"):])
	return !unicode.IsLower(r)
}

// takesTestingT reports whether the signature is func(*testing.T) with no results
func takesTestingT(ft *ast.FuncType, testingNames map[string]bool, dotImport bool) bool {
	if ft.TypeParams != nil && len(ft.TypeParams.List) > 0 {
		return false
	}
	if ft.Results != nil && len(ft.Results.List) > 0 {
		return false
	}
	if ft.Params == nil || len(ft.Params.List) != 1 || len(ft.Params.List[0].Names) > 1 {
		return false
	}
	star, ok := ft.Params.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	switch x := star.X.(type) {
	case *ast.SelectorExpr:
		pkg, ok := x.X.(*ast.Ident)
		return ok && testingNames[pkg.Name] && x.Sel.Name == "T"
	case *ast.Ident:
		return dotImport && x.Name == "T"
	}
	return false
}

// moduleResolver maps directories to import paths using the nearest go.mod
type moduleResolver struct {
	fallbackRoot string
	cache        map[string]moduleInfo
}

type moduleInfo struct {
	dir  string
	path string
}

func newModuleResolver(fallbackRoot string) *moduleResolver {
	return &moduleResolver{
		fallbackRoot: fallbackRoot,
		cache:        make(map[string]moduleInfo),
	}
}

// importPath returns the import path of the package in dir. Directories
// outside any module are named relative to the fallback root ("./pkg").
func (r *moduleResolver) importPath(dir string) (string, error) {
	mod, found, err := r.findModule(dir)
	if err != nil {
		return "", err
	}
	if !found {
		rel, err := filepath.Rel(r.fallbackRoot, dir)
		if err != nil {
			return "", fmt.Errorf("failed to relativize %s: %w", dir, err)
		}
		if rel == "." {
			return ".", nil
		}
		return "./" + filepath.ToSlash(rel), nil
	}

	rel, err := filepath.Rel(mod.dir, dir)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", dir, err)
	}
	if rel == "." {
		return mod.path, nil
	}
	return mod.path + "/" + filepath.ToSlash(rel), nil
}

func (r *moduleResolver) findModule(dir string) (moduleInfo, bool, error) {
	var visited []string
	for current := dir; ; current = filepath.Dir(current) {
		if mod, ok := r.cache[current]; ok {
			r.remember(visited, mod)
			return mod, mod.path != "", nil
		}
		visited = append(visited, current)

		goModPath := filepath.Join(current, "go.mod")
		content, err := os.ReadFile(goModPath)
		if err == nil {
			// Only the module path is needed, lax parsing tolerates newer directives
			modFile, err := modfile.ParseLax(goModPath, content, nil)
			if err != nil {
				return moduleInfo{}, false, fmt.Errorf("failed to parse go.mod: %w", err)
			}
			if modFile.Module == nil || modFile.Module.Mod.Path == "" {
				return moduleInfo{}, false, fmt.Errorf("could not find module name in %s", goModPath)
			}
			mod := moduleInfo{dir: current, path: modFile.Module.Mod.Path}
			r.remember(visited, mod)
			return mod, true, nil
		} else if !os.IsNotExist(err) {
			return moduleInfo{}, false, fmt.Errorf("failed to read go.mod: %w", err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			r.remember(visited, moduleInfo{})
			return moduleInfo{}, false, nil
		}
	}
}

func (r *moduleResolver) remember(dirs []string, mod moduleInfo) {
	for _, d := range dirs {
		r.cache[d] = mod
	}
}
