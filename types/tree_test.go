package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(pkg, file, name string) *SuiteNode {
	return NewLeaf(TestRef{Package: pkg, Dir: "/src/" + pkg, File: file, Name: name})
}

func TestSuiteNode_CountAndWalkOrder(t *testing.T) {
	tree := NewGroup("root", LevelRoot,
		NewGroup("a", LevelPackage,
			leaf("a", "a_test.go", "TestOne"),
			leaf("a", "a_test.go", "TestTwo"),
		),
		NewGroup("b", LevelPackage),
		leaf("c", "c_test.go", "TestThree"),
	)

	assert.Equal(t, 3, tree.CountTests())
	assert.False(t, tree.IsLeaf())
	assert.True(t, tree.HasDirectLeaf())
	assert.False(t, tree.Children[0].Children[0].HasDirectLeaf())

	tests := tree.Tests()
	require.Len(t, tests, 3)
	assert.Equal(t, "TestOne", tests[0].Name)
	assert.Equal(t, "TestTwo", tests[1].Name)
	assert.Equal(t, "TestThree", tests[2].Name)
}

func TestSuiteNode_NilSafe(t *testing.T) {
	var n *SuiteNode
	assert.Equal(t, 0, n.CountTests())
	assert.Empty(t, n.Tests())
	assert.False(t, n.IsLeaf())
	assert.Equal(t, "", n.ID())
}

func TestSuiteNode_ID(t *testing.T) {
	file := &SuiteNode{Kind: NodeGroup, Name: "x_test.go", Level: LevelFile, Package: "example.com/m/x"}
	pkg := &SuiteNode{Kind: NodeGroup, Name: "x", Level: LevelPackage, Package: "example.com/m/x"}

	assert.Equal(t, "example.com/m/x/x_test.go", file.ID())
	assert.Equal(t, "example.com/m/x", pkg.ID())
	assert.Equal(t, "a.TestOne", leaf("a", "a_test.go", "TestOne").ID())
}

func TestTestRef_Description(t *testing.T) {
	ref := TestRef{Package: "example.com/m/x", Name: "TestFoo"}
	assert.Equal(t, "TestFoo (example.com/m/x)", ref.Description())
	assert.Equal(t, "example.com/m/x.TestFoo", ref.String())
	assert.Equal(t, "TestFoo", TestRef{Name: "TestFoo"}.Description())
	assert.Equal(t, "example.com/m/x", TestRef{Package: "example.com/m/x"}.Description())
}

func TestExecutionUnit_Packages(t *testing.T) {
	unit := ExecutionUnit{
		Node: NewGroup("root", LevelRoot,
			leaf("a", "a_test.go", "TestOne"),
			leaf("b", "b_test.go", "TestTwo"),
			leaf("a", "a2_test.go", "TestThree"),
		),
	}

	groups := unit.Packages()
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Package)
	assert.Len(t, groups[0].Tests, 2)
	assert.Equal(t, "TestThree", groups[0].Tests[1].Name)
	assert.Equal(t, "b", groups[1].Package)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityTestCase, g)

	g, err = ParseGranularity("module-fixture")
	require.NoError(t, err)
	assert.Equal(t, GranularityModuleFixture, g)

	_, err = ParseGranularity("per-planet")
	require.Error(t, err)
}

func TestFormatError(t *testing.T) {
	got := FormatError("TestFoo (example.com/m)", "boom\n\n")
	assert.Equal(t, Separator1+"\nTestFoo (example.com/m)\n"+Separator2+"\nboom", string(got))
	assert.Len(t, Separator1, 70)
}

func TestRawResult_Merge(t *testing.T) {
	a := &RawResult{TestsRun: 2, Failures: []RawError{{Output: "a"}}}
	a.Merge(&RawResult{TestsRun: 1, Skipped: 1, Failures: []RawError{{Output: "b"}}, ShouldStop: true})
	a.Merge(nil)

	assert.Equal(t, 3, a.TestsRun)
	assert.Equal(t, 1, a.Skipped)
	assert.True(t, a.ShouldStop)
	require.Len(t, a.Failures, 2)
	assert.Equal(t, "b", a.Failures[1].Output)
}
