package job

import (
	"fmt"
	"sort"
)

// Dependency is a library coordinate the generated tests need to compile
// and run. Two dependencies are equal when all three fields are equal.
type Dependency struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

// String returns the Maven-style "group:artifact:version" coordinate.
func (d Dependency) String() string {
	return d.Group + ":" + d.Artifact + ":" + d.Version
}

// TestSuite is the normalized result of one job.
type TestSuite struct {
	// RootDirectory is the source root the test names are relative to.
	RootDirectory string

	// TestNames are fully qualified test class names, in report order.
	TestNames []string

	// Resources are auxiliary source files the tests need (helpers, scaffolding).
	Resources []string

	// Dependencies is deduplicated; use AddDependencies to extend it.
	Dependencies []Dependency
}

// EmptySuite returns a suite rooted at dir with no tests.
func EmptySuite(dir string) *TestSuite {
	return &TestSuite{RootDirectory: dir}
}

// AddDependencies appends deps that are not already present.
func (s *TestSuite) AddDependencies(deps ...Dependency) {
	seen := make(map[Dependency]struct{}, len(s.Dependencies)+len(deps))
	for _, d := range s.Dependencies {
		seen[d] = struct{}{}
	}
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		s.Dependencies = append(s.Dependencies, d)
	}
}

// Len returns the number of tests in the suite.
func (s *TestSuite) Len() int {
	if s == nil {
		return 0
	}
	return len(s.TestNames)
}

// CheckUnique returns an error naming the first duplicated test name.
func (s *TestSuite) CheckUnique() error {
	seen := make(map[string]struct{}, len(s.TestNames))
	for _, name := range s.TestNames {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate test name %q in suite", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// SortedDependencies returns a copy of the dependencies ordered by coordinate.
func (s *TestSuite) SortedDependencies() []Dependency {
	out := make([]Dependency, len(s.Dependencies))
	copy(out, s.Dependencies)
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
