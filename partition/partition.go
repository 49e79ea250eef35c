// Package partition splits a discovered suite tree into independently
// runnable execution units.
package partition

import (
	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// Partition flattens the tree into execution units according to the
// granularity policy. Units are returned in discovery order and every leaf of
// the tree belongs to exactly one unit.
func Partition(tree *types.SuiteNode, granularity types.Granularity) []types.ExecutionUnit {
	if tree == nil {
		return nil
	}

	var nodes []*types.SuiteNode
	switch granularity {
	case types.GranularityModuleFixture:
		nodes = moduleSuites(tree)
	case types.GranularityClassFixture:
		nodes = classSuites(tree, nil)
	default:
		nodes = testCases(tree, nil)
	}

	units := make([]types.ExecutionUnit, 0, len(nodes))
	for i, node := range nodes {
		units = append(units, types.ExecutionUnit{
			Index: i,
			ID:    node.ID(),
			Node:  node,
		})
	}
	return units
}

// moduleSuites returns the top-level groups that hold at least one test
func moduleSuites(tree *types.SuiteNode) []*types.SuiteNode {
	if tree.IsLeaf() {
		return []*types.SuiteNode{tree}
	}
	var nodes []*types.SuiteNode
	for _, child := range tree.Children {
		if child.CountTests() > 0 {
			nodes = append(nodes, child)
		}
	}
	return nodes
}

// classSuites stops descending at the first group that directly contains a test
func classSuites(node *types.SuiteNode, acc []*types.SuiteNode) []*types.SuiteNode {
	if node.IsLeaf() || node.HasDirectLeaf() {
		return append(acc, node)
	}
	for _, child := range node.Children {
		acc = classSuites(child, acc)
	}
	return acc
}

// testCases returns every leaf
func testCases(node *types.SuiteNode, acc []*types.SuiteNode) []*types.SuiteNode {
	if node.IsLeaf() {
		return append(acc, node)
	}
	for _, child := range node.Children {
		acc = testCases(child, acc)
	}
	return acc
}
