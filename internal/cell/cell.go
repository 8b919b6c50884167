// Package cell models the cell under characterization: its pins, their
// capacitances and functions, and the timing tables attached to outputs.
package cell

import (
	"fmt"
	"sort"

	"github.com/roach88/charlib/internal/logic"
)

// Direction is the signal direction of a pin.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Role distinguishes data pins from the control and supply pins of a cell.
type Role string

const (
	RoleIO     Role = "io"
	RoleClock  Role = "clock"
	RoleSet    Role = "set"
	RoleReset  Role = "reset"
	RolePower  Role = "power"
	RoleGround Role = "ground"
)

// Table kinds produced for every characterized arc.
const (
	CellRise       = "cell_rise"
	CellFall       = "cell_fall"
	RiseTransition = "rise_transition"
	FallTransition = "fall_transition"
)

// Table is a two-dimensional timing table indexed by input slew (index1)
// and output load (index2). Values are stored row-major, slew outer.
type Table struct {
	Kind     string    `json:"kind"`
	Template string    `json:"template"`
	Index1   []float64 `json:"index_1"`
	Index2   []float64 `json:"index_2"`
	Values   []float64 `json:"values"`
}

// At returns the value for slew index i and load index j.
func (t *Table) At(i, j int) float64 {
	return t.Values[i*len(t.Index2)+j]
}

// TemplateName returns the lookup-table template name for an m x n grid.
func TemplateName(slews, loads int) string {
	return fmt.Sprintf("delay_template_%dx%d", slews, loads)
}

// Timing groups the tables of one output pin related to one input pin.
type Timing struct {
	RelatedPin string   `json:"related_pin"`
	Tables     []*Table `json:"tables"`
}

// AddTable attaches a table. Values must hold len(index1)*len(index2)
// entries; an existing table of the same kind is replaced.
func (t *Timing) AddTable(kind, template string, values, index1, index2 []float64) (*Table, error) {
	if len(values) != len(index1)*len(index2) {
		return nil, fmt.Errorf("table %s for %s: got %d values for a %dx%d grid",
			kind, t.RelatedPin, len(values), len(index1), len(index2))
	}
	table := &Table{
		Kind:     kind,
		Template: template,
		Index1:   append([]float64(nil), index1...),
		Index2:   append([]float64(nil), index2...),
		Values:   append([]float64(nil), values...),
	}
	for i, existing := range t.Tables {
		if existing.Kind == kind {
			t.Tables[i] = table
			return table, nil
		}
	}
	t.Tables = append(t.Tables, table)
	return table, nil
}

// Table returns the table of the given kind, or nil.
func (t *Timing) Table(kind string) *Table {
	for _, table := range t.Tables {
		if table.Kind == kind {
			return table
		}
	}
	return nil
}

// Pin is one pin of a cell.
type Pin struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Role      Role      `json:"role"`

	// Capacitance is in library capacitance units. Zero until measured.
	Capacitance float64 `json:"capacitance"`

	// Function drives an output pin. Nil for inputs.
	Function *logic.Function `json:"-"`

	timing map[string]*Timing
}

// IsIO reports whether the pin is a data pin rather than a control pin.
func (p *Pin) IsIO() bool { return p.Role == RoleIO }

// AddTiming returns the timing group related to pin related, creating it
// if needed.
func (p *Pin) AddTiming(related string) *Timing {
	if p.timing == nil {
		p.timing = make(map[string]*Timing)
	}
	if t, ok := p.timing[related]; ok {
		return t
	}
	t := &Timing{RelatedPin: related}
	p.timing[related] = t
	return t
}

// Timing returns the timing group related to pin related, or nil.
func (p *Pin) Timing(related string) *Timing {
	return p.timing[related]
}

// Timings returns every timing group sorted by related pin.
func (p *Pin) Timings() []*Timing {
	out := make([]*Timing, 0, len(p.timing))
	for _, t := range p.timing {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelatedPin < out[j].RelatedPin })
	return out
}

// Cell is a named collection of pins in declaration order.
type Cell struct {
	Name string
	Area float64

	pins  []*Pin
	index map[string]*Pin
}

// New returns an empty cell.
func New(name string, area float64) *Cell {
	return &Cell{Name: name, Area: area, index: make(map[string]*Pin)}
}

// AddPin adds a pin. Pin names must be unique.
func (c *Cell) AddPin(name string, dir Direction, role Role) (*Pin, error) {
	if _, ok := c.index[name]; ok {
		return nil, fmt.Errorf("cell %s: duplicate pin %s", c.Name, name)
	}
	p := &Pin{Name: name, Direction: dir, Role: role}
	c.pins = append(c.pins, p)
	c.index[name] = p
	return p, nil
}

// Pin returns the named pin, or nil.
func (c *Cell) Pin(name string) *Pin {
	return c.index[name]
}

// Pins returns every pin in declaration order.
func (c *Cell) Pins() []*Pin {
	return append([]*Pin(nil), c.pins...)
}

// Inputs returns the input data pins in declaration order.
func (c *Cell) Inputs() []*Pin {
	return c.filter(func(p *Pin) bool { return p.Direction == Input && p.IsIO() })
}

// Outputs returns the output pins in declaration order.
func (c *Cell) Outputs() []*Pin {
	return c.filter(func(p *Pin) bool { return p.Direction == Output })
}

func (c *Cell) filter(keep func(*Pin) bool) []*Pin {
	var out []*Pin
	for _, p := range c.pins {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
