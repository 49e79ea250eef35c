// Package types contains shared types used across the op-parallel test runner
package types

import (
	"fmt"
	"strings"
)

// SuiteNodeKind tags a node of the discovered suite tree
type SuiteNodeKind string

const (
	NodeGroup SuiteNodeKind = "group" // Container of further nodes
	NodeLeaf  SuiteNodeKind = "leaf"  // A single runnable test function
)

// GroupLevel describes what a group node stands for in a Go source tree
type GroupLevel string

const (
	LevelRoot    GroupLevel = "root"    // Discovery root
	LevelPackage GroupLevel = "package" // One Go package, the TestMain scope
	LevelFile    GroupLevel = "file"    // One _test.go file
)

// TestRef identifies one top-level Go test function
type TestRef struct {
	Package string // Import path of the package under test
	Dir     string // Absolute directory of the package
	File    string // Base name of the _test.go file declaring the test
	Name    string // Test function name
}

// String returns the fully qualified test name
func (r TestRef) String() string {
	if r.Package == "" {
		return r.Name
	}
	return r.Package + "." + r.Name
}

// Description returns the human-readable description used in reports. A
// reference without a test name describes the whole package.
func (r TestRef) Description() string {
	if r.Package == "" {
		return r.Name
	}
	if r.Name == "" {
		return r.Package
	}
	return fmt.Sprintf("%s (%s)", r.Name, r.Package)
}

// SuiteNode is a node of the discovered suite tree. Exactly one of Children
// (for groups) or Test (for leaves) is meaningful, as selected by Kind.
type SuiteNode struct {
	Kind     SuiteNodeKind
	Name     string
	Level    GroupLevel // Only set for groups
	Package  string     // Import path, set for package and file groups
	Dir      string     // Absolute directory, set for package and file groups
	Children []*SuiteNode
	Test     TestRef
}

// NewGroup creates a group node
func NewGroup(name string, level GroupLevel, children ...*SuiteNode) *SuiteNode {
	return &SuiteNode{
		Kind:     NodeGroup,
		Name:     name,
		Level:    level,
		Children: children,
	}
}

// NewLeaf creates a leaf node for a single test
func NewLeaf(test TestRef) *SuiteNode {
	return &SuiteNode{
		Kind: NodeLeaf,
		Name: test.Name,
		Test: test,
	}
}

// IsLeaf reports whether the node is a runnable test
func (n *SuiteNode) IsLeaf() bool {
	return n != nil && n.Kind == NodeLeaf
}

// HasDirectLeaf reports whether a group directly contains at least one test
func (n *SuiteNode) HasDirectLeaf() bool {
	if n == nil || n.IsLeaf() {
		return false
	}
	for _, child := range n.Children {
		if child.IsLeaf() {
			return true
		}
	}
	return false
}

// CountTests returns the number of leaves below (and including) this node
func (n *SuiteNode) CountTests() int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return 1
	}
	total := 0
	for _, child := range n.Children {
		total += child.CountTests()
	}
	return total
}

// Tests returns every leaf below this node in depth-first order
func (n *SuiteNode) Tests() []TestRef {
	var tests []TestRef
	n.Walk(func(node *SuiteNode) {
		if node.IsLeaf() {
			tests = append(tests, node.Test)
		}
	})
	return tests
}

// Walk visits the node and all descendants depth-first, in child order
func (n *SuiteNode) Walk(fn func(*SuiteNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// ID returns a stable identifier for the node
func (n *SuiteNode) ID() string {
	if n == nil {
		return ""
	}
	if n.IsLeaf() {
		return n.Test.String()
	}
	switch n.Level {
	case LevelFile:
		return strings.TrimSuffix(n.Package, "/") + "/" + n.Name
	case LevelPackage:
		return n.Package
	default:
		return n.Name
	}
}
