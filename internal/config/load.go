package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/charlib/internal/errs"
)

//go:embed schema.cue
var schemaCUE string

// File is the on-disk form of a library configuration.
type File struct {
	Settings Settings   `yaml:"settings" json:"settings"`
	Cells    []CellSpec `yaml:"cells" json:"cells"`
}

// Library is a validated library configuration.
type Library struct {
	Settings Settings
	Cells    []*Cell

	// Path is the file the library was loaded from, if any.
	Path string
}

// Cell returns the cell with the given (case-insensitive) name.
func (l *Library) Cell(name string) (*Cell, bool) {
	name = upper.String(name)
	for _, c := range l.Cells {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Load reads a library configuration from a .yaml, .yml or .cue file.
// Relative netlist and model paths resolve against the file's directory.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file *File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err = DecodeYAML(data)
	case ".cue":
		file, err = DecodeCUE(data, path)
	default:
		return nil, errs.Configf("config", "unsupported config file extension %q (want .yaml, .yml or .cue)", ext)
	}
	if err != nil {
		return nil, err
	}

	lib, err := file.Library(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	lib.Path = path
	return lib, nil
}

// DecodeYAML parses a YAML library configuration with strict field
// validation. Settings not present in data keep their defaults.
func DecodeYAML(data []byte) (*File, error) {
	file := &File{Settings: DefaultSettings()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(file); err != nil {
		return nil, &errs.ConfigurationError{Field: "config", Message: "failed to parse YAML", Err: err}
	}
	return file, nil
}

// DecodeCUE unifies a CUE library configuration with the embedded #Library
// schema, requires the result to be concrete, and decodes it.
func DecodeCUE(data []byte, filename string) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling embedded schema: %w", err)
	}
	library := schema.LookupPath(cue.ParsePath("#Library"))

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, &errs.ConfigurationError{Field: "config", Message: "failed to compile CUE", Err: err}
	}

	unified := library.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &errs.ConfigurationError{Field: "config", Message: "CUE config does not match schema", Err: err}
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "config", Message: "failed to export CUE", Err: err}
	}

	file := &File{Settings: DefaultSettings()}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(file); err != nil {
		return nil, &errs.ConfigurationError{Field: "config", Message: "failed to decode CUE export", Err: err}
	}
	return file, nil
}

// Library validates every part of the file and returns the resolved
// configuration. baseDir anchors relative paths.
func (f *File) Library(baseDir string) (*Library, error) {
	if err := f.Settings.Validate(); err != nil {
		return nil, err
	}
	if len(f.Cells) == 0 {
		return nil, errs.Configf("cells", "at least one cell is required")
	}

	lib := &Library{Settings: f.Settings}
	seen := make(map[string]bool, len(f.Cells))
	for i, spec := range f.Cells {
		c, err := NewCell(spec, baseDir)
		if err != nil {
			return nil, fmt.Errorf("cells[%d]: %w", i, err)
		}
		if seen[c.Name] {
			return nil, errs.Configf(fmt.Sprintf("cells[%d]", i), "duplicate cell %q", c.Name)
		}
		seen[c.Name] = true
		lib.Cells = append(lib.Cells, c)
	}
	return lib, nil
}
