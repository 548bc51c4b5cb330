package tool

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// Options is the tool-specific key/value configuration. It is opaque to the
// controller.
type Options map[string]string

// Keys returns the option names, sorted.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// newFlagSet returns a flag set that reports errors instead of printing
// them.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

// parseArgs parses args into fs, then fills every flag not given on the
// command line from defaults.
func parseArgs(fs *pflag.FlagSet, args []string, defaults Options) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s arguments: %w", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s arguments: unexpected %q", fs.Name(), strings.Join(fs.Args(), " "))
	}

	var errs []error
	for _, key := range defaults.Keys() {
		f := fs.Lookup(key)
		if f == nil || f.Changed {
			continue
		}
		if err := fs.Set(key, defaults[key]); err != nil {
			errs = append(errs, fmt.Errorf("%s option %s: %w", fs.Name(), key, err))
		}
	}
	return errors.Join(errs...)
}

// flagOptions snapshots the flag values as Options.
func flagOptions(fs *pflag.FlagSet) Options {
	opts := Options{}
	fs.VisitAll(func(f *pflag.Flag) {
		if sa, ok := f.Value.(pflag.SliceValue); ok {
			opts[f.Name] = strings.Join(sa.GetSlice(), " ")
			return
		}
		opts[f.Name] = f.Value.String()
	})
	return opts
}
