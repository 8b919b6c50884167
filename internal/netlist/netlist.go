// Package netlist reads the SPICE netlist of a cell: its subcircuit
// definition, the instance line used to place it in a test deck, and the
// subcircuits it depends on.
package netlist

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/roach88/charlib/internal/errs"
)

// InstanceName is the instance name of the device under test.
const InstanceName = "XDUT"

// Definition is a parsed .subckt line.
type Definition struct {
	// Name is the subcircuit name, upper-cased.
	Name string

	// Ports are the port names in definition order, upper-cased.
	Ports []string

	// Line is the definition as written, continuation lines joined.
	Line string
}

// Instance returns an instantiation of the definition: "XDUT ports... NAME".
func (d *Definition) Instance() string {
	fields := append([]string{InstanceName}, d.Ports...)
	return strings.Join(append(fields, d.Name), " ")
}

// Netlist is a cell netlist file.
type Netlist struct {
	Path       string
	Definition *Definition

	lines []string
}

// Read parses the netlist at path and locates the definition of cell.
// A missing definition is a configuration error.
func Read(path, cell string) (*Netlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "netlist", Message: "cannot open netlist", Err: err}
	}
	defer f.Close()

	lines, err := logicalLines(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read netlist %s", path)
	}

	n := &Netlist{Path: path, lines: lines}
	cell = strings.ToUpper(cell)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], ".subckt") || strings.ToUpper(fields[1]) != cell {
			continue
		}
		def := &Definition{Name: cell, Line: line}
		for _, port := range fields[2:] {
			if strings.Contains(port, "=") || strings.EqualFold(port, "params:") {
				break
			}
			def.Ports = append(def.Ports, strings.ToUpper(port))
		}
		n.Definition = def
		return n, nil
	}
	return nil, errs.Configf("netlist", "no definition of cell %s found in netlist %s", cell, path)
}

// UsedModels returns the subcircuits instantiated by X lines, in order of
// first use. The subcircuit name is the last term without "=".
func (n *Netlist) UsedModels() []string {
	var used []string
	seen := map[string]bool{}
	for _, line := range n.lines {
		if !strings.HasPrefix(strings.ToLower(line), "x") {
			continue
		}
		fields := strings.Fields(line)
		for i := len(fields) - 1; i > 0; i-- {
			if strings.Contains(fields[i], "=") {
				continue
			}
			if !seen[fields[i]] {
				seen[fields[i]] = true
				used = append(used, fields[i])
			}
			break
		}
	}
	return used
}

// logicalLines reads SPICE lines, joining "+" continuations and dropping
// comments and blank lines.
func logicalLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		if i := strings.Index(line, "$"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if strings.HasPrefix(line, "+") && len(lines) > 0 {
			lines[len(lines)-1] += " " + strings.TrimSpace(line[1:])
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Library indexes a directory of model files by the subcircuits and models
// they define.
type Library struct {
	Dir   string
	files map[string]string
}

var modelExtensions = map[string]bool{
	".spice": true, ".sp": true, ".cir": true, ".lib": true, ".mod": true, ".model": true,
}

// ScanLibrary walks dir and records which file defines each .subckt and
// .model name (upper-cased). The first definition found wins.
func ScanLibrary(dir string) (*Library, error) {
	lib := &Library{Dir: dir, files: map[string]string{}}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !modelExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		lines, err := logicalLines(f)
		if err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			kw := strings.ToLower(fields[0])
			if kw != ".subckt" && kw != ".model" {
				continue
			}
			name := strings.ToUpper(fields[1])
			if _, ok := lib.files[name]; !ok {
				lib.files[name] = path
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan model library %s", dir)
	}
	return lib, nil
}

// Files returns the sorted, de-duplicated files defining names. Names the
// library does not define are returned as missing.
func (l *Library) Files(names []string) (files, missing []string) {
	seen := map[string]bool{}
	for _, name := range names {
		path, ok := l.files[strings.ToUpper(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, missing
}
