package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{
			name: "valid",
			job: Job{
				Target:          "com.acme.Foo",
				TimeBudget:      time.Minute,
				OutputDirectory: "/tmp/run-3/bench1",
			},
		},
		{
			name:    "missing target",
			job:     Job{TimeBudget: time.Minute, OutputDirectory: "/tmp/out"},
			wantErr: "target is required",
		},
		{
			name:    "missing output",
			job:     Job{Target: "a.B", TimeBudget: time.Minute},
			wantErr: "output directory is required",
		},
		{
			name:    "zero budget",
			job:     Job{Target: "a.B", OutputDirectory: "/tmp/out"},
			wantErr: "time budget must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJob_CloneClasspath(t *testing.T) {
	j := Job{Classpath: []string{"/a", "/b"}}
	cp := j.CloneClasspath()
	cp = append(cp, "/c")
	cp[0] = "/changed"

	assert.Equal(t, []string{"/a", "/b"}, j.Classpath, "job classpath mutated")
	assert.Nil(t, (Job{}).CloneClasspath(), "empty classpath should clone to nil")
}

func TestJob_ShortID(t *testing.T) {
	assert.Equal(t, "01234567", (Job{ID: "0123456789abcdef"}).ShortID())
	assert.Equal(t, "abc", (Job{ID: "abc"}).ShortID())
}

func TestTestSuite_AddDependencies(t *testing.T) {
	junit := Dependency{"junit", "junit", "4.13.2"}
	rt := Dependency{"org.evosuite", "evosuite-standalone-runtime", "1.0.6"}

	s := EmptySuite("/tmp/out")
	s.AddDependencies(junit, rt, junit)
	s.AddDependencies(Dependency{"junit", "junit", "4.13.2"})

	require.Len(t, s.Dependencies, 2)
	assert.Equal(t, junit, s.SortedDependencies()[0])
}

func TestTestSuite_CheckUnique(t *testing.T) {
	s := &TestSuite{TestNames: []string{"a.T0", "a.T1"}}
	assert.NoError(t, s.CheckUnique())

	s.TestNames = append(s.TestNames, "a.T0")
	assert.Error(t, s.CheckUnique())
}

func TestTestSuite_LenNilSafe(t *testing.T) {
	var s *TestSuite
	assert.Zero(t, s.Len())
	assert.Equal(t, 2, (&TestSuite{TestNames: []string{"a", "b"}}).Len())
}

func TestDependency_String(t *testing.T) {
	assert.Equal(t, "junit:junit:4.13.2", Dependency{"junit", "junit", "4.13.2"}.String())
}
