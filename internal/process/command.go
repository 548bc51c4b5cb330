// Package process describes the external commands tools run and locates the
// binaries they need.
package process

import (
	"strings"
)

// Command is a fully resolved external invocation. It is built by a tool
// adapter and executed by the supervisor.
type Command struct {
	// Path is the executable, either absolute or looked up in PATH.
	Path string

	// Args are the arguments, not including Path.
	Args []string

	// Dir is the working directory. Empty means the worker's directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the worker environment.
	Env []string

	// LogName is the file name of the run log inside the output directory.
	LogName string
}

// String returns the command line for logging. Arguments containing spaces
// are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Equal reports whether two commands would run the same invocation.
func (c Command) Equal(o Command) bool {
	if c.Path != o.Path || c.Dir != o.Dir || len(c.Args) != len(o.Args) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\"'") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
