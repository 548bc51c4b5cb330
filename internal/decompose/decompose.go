// Package decompose splits generated multi-case test containers into one
// source file per case.
//
// The transform is textual, not a parse of the language. It is only valid
// because generators such as EvoSuite emit the case marker ("@Test") solely
// as the annotation that opens a case. A marker inside a string literal or
// comment would produce a broken case file; such a file is a visible defect
// for the compile step downstream, it is never dropped here.
package decompose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultMarker opens a JUnit test case.
	DefaultMarker = "@Test"

	// containerKeyword starts the declaration of a test container.
	containerKeyword = "public class"

	fileMode = 0o644
)

var (
	// ErrMalformedContainer is returned when a source file does not have the
	// shape header, declaration, body, closing brace.
	ErrMalformedContainer = errors.New("malformed test container")

	// ErrNameCollision is returned when a generated case name already exists.
	ErrNameCollision = errors.New("decomposed test name collides with an existing test")
)

// Container is a parsed multi-case source file.
type Container struct {
	// Header is everything before the container declaration: package,
	// imports and class annotations.
	Header string

	// Declaration is the opening line up to and including "{".
	Declaration string

	// Name is the declared container name.
	Name string

	// Fixture is class-level code before the first case (fields, setup
	// methods). It is copied into every case file.
	Fixture string

	// Cases holds the body of each non-blank case, without the marker.
	Cases []string

	marker string
}

// Parse separates src into header, declaration, fixture and cases.
// Blank segments between markers are discarded.
func Parse(src, marker string) (*Container, error) {
	if marker == "" {
		marker = DefaultMarker
	}

	idx := strings.Index(src, containerKeyword)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no %q declaration", ErrMalformedContainer, containerKeyword)
	}
	header := src[:idx]
	rest := src[idx:]

	brace := strings.Index(rest, "{")
	if brace < 0 {
		return nil, fmt.Errorf("%w: declaration has no opening brace", ErrMalformedContainer)
	}
	decl := rest[:brace+1]

	fields := strings.Fields(decl[len(containerKeyword):brace])
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: declaration has no name", ErrMalformedContainer)
	}
	name := fields[0]
	if i := strings.IndexByte(name, '<'); i > 0 {
		name = name[:i]
	}

	body := strings.TrimRight(rest[brace+1:], " \t\r\n")
	if !strings.HasSuffix(body, "}") {
		return nil, fmt.Errorf("%w: %s is not closed", ErrMalformedContainer, name)
	}
	body = strings.TrimSuffix(body, "}")

	segments := strings.Split(body, marker)
	c := &Container{
		Header:      header,
		Declaration: decl,
		Name:        name,
		marker:      marker,
	}
	if strings.TrimSpace(segments[0]) != "" {
		c.Fixture = segments[0]
	}
	for _, seg := range segments[1:] {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		c.Cases = append(c.Cases, seg)
	}
	return c, nil
}

// CaseName returns the unique name of case i.
func (c *Container) CaseName(i int) string {
	return fmt.Sprintf("%s%d", c.Name, i)
}

// Render returns the standalone source of case i under newName.
func (c *Container) Render(i int, newName string) string {
	var b strings.Builder
	b.WriteString(c.Header)
	b.WriteString(c.renameDeclaration(newName))
	b.WriteString("\n")
	if f := strings.TrimSpace(c.Fixture); f != "" {
		b.WriteString("  ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	b.WriteString("  ")
	b.WriteString(c.marker)
	b.WriteString(strings.TrimRight(c.Cases[i], " \t\r\n"))
	b.WriteString("\n}\n")
	return b.String()
}

// renameDeclaration swaps the container name in the declaration, keeping
// generics, extends and implements clauses.
func (c *Container) renameDeclaration(newName string) string {
	after := c.Declaration[len(containerKeyword):]
	i := strings.Index(after, c.Name)
	if i < 0 {
		return containerKeyword + " " + newName + " {"
	}
	return containerKeyword + after[:i] + newName + after[i+len(c.Name):]
}

// Case is one decomposed test case written to disk.
type Case struct {
	// Name is the simple container name, e.g. "FooTest0".
	Name string

	// QualifiedName is Name prefixed with the package derived from the
	// source tree. Equal to Name when the file is not inside a tree.
	QualifiedName string

	// Path is the written source file.
	Path string

	// SharedHeader is the header and fixture code every case of the
	// original container carries.
	SharedHeader string
}

// Split decomposes the container at path into one file per case, written
// next to it, then deletes the original. A file without any case is left
// untouched and yields no cases. On a write error the files already written
// are removed and the original is kept.
func Split(path, marker string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ext := filepath.Ext(path)
	fileName := strings.TrimSuffix(filepath.Base(path), ext)

	c, err := Parse(string(data), marker)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Name != fileName {
		return nil, fmt.Errorf("%w: %s declares %q", ErrMalformedContainer, path, c.Name)
	}
	if len(c.Cases) == 0 {
		return nil, nil
	}

	dir := filepath.Dir(path)
	shared := c.Header + c.Fixture
	cases := make([]Case, 0, len(c.Cases))

	for i := range c.Cases {
		name := c.CaseName(i)
		out := filepath.Join(dir, name+ext)
		if _, err := os.Stat(out); err == nil {
			removeCases(cases)
			return nil, fmt.Errorf("%w: %s", ErrNameCollision, out)
		}
		if err := os.WriteFile(out, []byte(c.Render(i, name)), fileMode); err != nil {
			removeCases(cases)
			return nil, fmt.Errorf("write %s: %w", out, err)
		}
		cases = append(cases, Case{
			Name:          name,
			QualifiedName: name,
			Path:          out,
			SharedHeader:  shared,
		})
	}

	if err := os.Remove(path); err != nil {
		removeCases(cases)
		return nil, fmt.Errorf("remove original %s: %w", path, err)
	}
	return cases, nil
}

func removeCases(cases []Case) {
	for _, c := range cases {
		os.Remove(c.Path)
	}
}
