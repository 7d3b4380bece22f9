// Package fsf writes engine design files: an ordered list of `set` directives
// built from a default stub, optional overrides, and a generated section
// specific to one unit of work.
package fsf

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed stubs/*.stub
var stubs embed.FS

const customNote = "From custom stub file"

// Setting is one `set <key> <value>` directive. Note, when set, is written as
// a comment above the directive where it replaces or extends the stub.
type Setting struct {
	Key   string
	Value string
	Note  string
}

// ParseStub reads the `set` directives of a stub. Other lines are ignored.
// Settings parsed here carry the custom-stub note.
func ParseStub(r io.Reader) ([]Setting, error) {
	var out []Setting
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := parseSet(sc.Text())
		if !ok {
			continue
		}
		out = append(out, Setting{Key: key, Value: value, Note: customNote})
	}
	return out, sc.Err()
}

// ParseStubFile is ParseStub on a file.
func ParseStubFile(path string) ([]Setting, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	settings, err := ParseStub(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read stub %s: %w", path, err)
	}
	return settings, nil
}

func parseSet(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	rest, found := strings.CutPrefix(line, "set ")
	if !found {
		return "", "", false
	}
	key, value, _ = strings.Cut(strings.TrimSpace(rest), " ")
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// Document is a design file being assembled.
type Document struct {
	b      strings.Builder
	values map[string]string
}

// New starts a document from the built-in stub of level (1, 2 or 3) with
// overrides applied. An override replaces the stub line with the same key in
// place; overrides the stub lacks are appended after it. For repeated keys the
// last override wins.
func New(level int, overrides []Setting) (*Document, error) {
	stub, err := stubs.ReadFile(fmt.Sprintf("stubs/design_level%d.stub", level))
	if err != nil {
		return nil, fmt.Errorf("no default stub for level %d: %w", level, err)
	}

	pending := make(map[string]Setting, len(overrides))
	var order []string
	for _, o := range overrides {
		if _, seen := pending[o.Key]; !seen {
			order = append(order, o.Key)
		}
		pending[o.Key] = o
	}

	d := &Document{values: make(map[string]string)}
	d.Comment("Automatically generated by featflow")

	sc := bufio.NewScanner(strings.NewReader(string(stub)))
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := parseSet(line)
		if !ok {
			d.line(line)
			continue
		}
		if o, hit := pending[key]; hit {
			delete(pending, key)
			d.setWithNote(o)
			continue
		}
		d.Set(key, value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		d.line("")
		d.line("### Additional settings ###")
		for _, key := range order {
			if o, hit := pending[key]; hit {
				d.setWithNote(o)
			}
		}
	}

	d.line("")
	d.line("")
	d.line("### AUTOMATICALLY GENERATED PART ###")
	d.line("")
	return d, nil
}

func (d *Document) line(s string) {
	d.b.WriteString(s)
	d.b.WriteByte('\n')
}

func (d *Document) setWithNote(s Setting) {
	if s.Note != "" {
		d.Comment(s.Note)
	}
	d.Set(s.Key, s.Value)
}

// Comment writes "# text".
func (d *Document) Comment(text string) { d.line("# " + text) }

// Blank writes an empty line.
func (d *Document) Blank() { d.line("") }

// Set writes `set key value` with value verbatim.
func (d *Document) Set(key, value string) {
	d.values[key] = value
	d.line("set " + key + " " + value)
}

// Setf formats the value.
func (d *Document) Setf(key, format string, args ...any) {
	d.Set(key, fmt.Sprintf(format, args...))
}

// SetQuoted writes `set key "value"`.
func (d *Document) SetQuoted(key, value string) {
	d.Set(key, `"`+value+`"`)
}

// SetBool writes 1 or 0.
func (d *Document) SetBool(key string, v bool) {
	if v {
		d.Set(key, "1")
		return
	}
	d.Set(key, "0")
}

// Value returns the last value written for key, as written.
func (d *Document) Value(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d *Document) String() string { return d.b.String() }

// WriteFile writes the document to path.
func (d *Document) WriteFile(path string) error {
	return os.WriteFile(path, []byte(d.b.String()), 0o644)
}
