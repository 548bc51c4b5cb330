package decompose

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TreeResult is the outcome of decomposing a source tree.
type TreeResult struct {
	// Cases are the decomposed test cases in walk order.
	Cases []Case

	// Resources are source files that contain no case (helpers, scaffolding).
	// They are kept on disk as they are.
	Resources []string
}

// Names returns the qualified names of all cases.
func (r *TreeResult) Names() []string {
	names := make([]string, len(r.Cases))
	for i, c := range r.Cases {
		names[i] = c.QualifiedName
	}
	return names
}

// SplitTree decomposes every source file with the given extension under
// root. Qualified names are derived from the path relative to root. A
// missing root yields an empty result. Names are unique across the tree.
func SplitTree(root, ext, marker string) (*TreeResult, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	result := &TreeResult{}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	// Collect first: Split writes new files into the directories being walked.
	var sources []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ext) {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	seen := make(map[string]struct{})
	for _, path := range sources {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if !strings.Contains(string(data), marker) {
			result.Resources = append(result.Resources, path)
			continue
		}

		cases, err := Split(path, marker)
		if err != nil {
			return nil, err
		}
		if len(cases) == 0 {
			// The marker only appears outside a case body, e.g. in the header.
			result.Resources = append(result.Resources, path)
			continue
		}
		pkg := packageOf(root, path)
		for _, c := range cases {
			if pkg != "" {
				c.QualifiedName = pkg + "." + c.Name
			}
			if _, dup := seen[c.QualifiedName]; dup {
				return nil, fmt.Errorf("%w: %s", ErrNameCollision, c.QualifiedName)
			}
			seen[c.QualifiedName] = struct{}{}
			result.Cases = append(result.Cases, c)
		}
	}
	return result, nil
}

// QualifiedName converts a source path under root into a dotted class name.
func QualifiedName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, string(filepath.Separator), ".")
}

// packageOf returns the dotted package of path relative to root.
func packageOf(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return strings.ReplaceAll(rel, string(filepath.Separator), ".")
}

// Collect classifies source files under root without rewriting them: files
// containing marker are tests, the rest are resources. An empty marker makes
// every file a test. Names are qualified relative to root.
func Collect(root, ext, marker string) (*TreeResult, error) {
	result := &TreeResult{}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		if marker != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if !strings.Contains(string(data), marker) {
				result.Resources = append(result.Resources, path)
				return nil
			}
		}
		name := strings.TrimSuffix(d.Name(), ext)
		result.Cases = append(result.Cases, Case{
			Name:          name,
			QualifiedName: QualifiedName(root, path),
			Path:          path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return result, nil
}
