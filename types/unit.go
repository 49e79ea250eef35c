package types

import "fmt"

// Granularity selects how the discovered tree is split into execution units
type Granularity string

const (
	GranularityTestCase      Granularity = "test-case"
	GranularityClassFixture  Granularity = "class-fixture"
	GranularityModuleFixture Granularity = "module-fixture"
)

// String implements the Stringer interface for Granularity
func (g Granularity) String() string {
	return string(g)
}

// IsValid checks if the granularity is one of the known policies
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityTestCase, GranularityClassFixture, GranularityModuleFixture:
		return true
	}
	return false
}

// ParseGranularity converts a flag value into a Granularity
func ParseGranularity(s string) (Granularity, error) {
	if s == "" {
		return GranularityTestCase, nil
	}
	g := Granularity(s)
	if !g.IsValid() {
		return "", fmt.Errorf("invalid granularity %q, must be one of: %s, %s, %s",
			s, GranularityTestCase, GranularityClassFixture, GranularityModuleFixture)
	}
	return g, nil
}

// ExecutionUnit is one independently runnable subset of the discovered tree.
// It is created once by the partitioner and never mutated afterwards.
type ExecutionUnit struct {
	Index int        // Position in the partitioned sequence
	ID    string     // Stable identifier, used in logs and artifacts
	Node  *SuiteNode // Leaf or group this unit runs
}

// Tests returns the tests of the unit in discovery order
func (u ExecutionUnit) Tests() []TestRef {
	return u.Node.Tests()
}

// PackageTests is the slice of a unit's tests living in one package
type PackageTests struct {
	Package string
	Dir     string
	Tests   []TestRef
}

// Packages groups the unit's tests by package directory, keeping the order in
// which each package is first seen.
func (u ExecutionUnit) Packages() []PackageTests {
	var groups []PackageTests
	index := make(map[string]int)
	for _, test := range u.Tests() {
		i, ok := index[test.Dir]
		if !ok {
			i = len(groups)
			index[test.Dir] = i
			groups = append(groups, PackageTests{Package: test.Package, Dir: test.Dir})
		}
		groups[i].Tests = append(groups[i].Tests, test)
	}
	return groups
}
