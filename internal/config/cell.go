package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/charlib/internal/errs"
)

// Kind distinguishes combinational from sequential cells.
type Kind string

const (
	KindCombinational Kind = "combinational"
	KindSequential    Kind = "sequential"
)

// Edge is the trigger edge of a clock, set or reset pin.
type Edge string

const (
	Posedge Edge = "posedge"
	Negedge Edge = "negedge"
)

// CellSpec is the file form of a cell configuration, before validation.
type CellSpec struct {
	Name               string     `yaml:"name" json:"name"`
	Kind               Kind       `yaml:"kind,omitempty" json:"kind,omitempty"`
	Inputs             []string   `yaml:"inputs" json:"inputs"`
	Outputs            []string   `yaml:"outputs" json:"outputs"`
	Functions          []string   `yaml:"functions,omitempty" json:"functions,omitempty"`
	Area               float64    `yaml:"area,omitempty" json:"area,omitempty"`
	Netlist            string     `yaml:"netlist" json:"netlist"`
	Models             []string   `yaml:"models,omitempty" json:"models,omitempty"`
	Slews              []float64  `yaml:"slews" json:"slews"`
	Loads              []float64  `yaml:"loads" json:"loads"`
	SimulationTimestep Quantity   `yaml:"simulation_timestep,omitempty" json:"simulation_timestep,omitempty"`
	TestVectors        [][]string `yaml:"test_vectors,omitempty" json:"test_vectors,omitempty"`
	Plots              Plots      `yaml:"plots,omitempty" json:"plots,omitempty"`

	// Sequential cells only.
	Clock      string      `yaml:"clock,omitempty" json:"clock,omitempty"`
	Set        string      `yaml:"set,omitempty" json:"set,omitempty"`
	Reset      string      `yaml:"reset,omitempty" json:"reset,omitempty"`
	Flops      []string    `yaml:"flops,omitempty" json:"flops,omitempty"`
	ClockSlew  Quantity    `yaml:"clock_slew,omitempty" json:"clock_slew,omitempty"`
	Simulation *SearchSpec `yaml:"simulation,omitempty" json:"simulation,omitempty"`
}

// SearchSpec configures the setup and hold binary searches.
type SearchSpec struct {
	Setup BoundsSpec `yaml:"setup,omitempty" json:"setup,omitempty"`
	Hold  BoundsSpec `yaml:"hold,omitempty" json:"hold,omitempty"`
}

// BoundsSpec is the file form of a search interval.
type BoundsSpec struct {
	Highest  Quantity `yaml:"highest,omitempty" json:"highest,omitempty"`
	Lowest   Quantity `yaml:"lowest,omitempty" json:"lowest,omitempty"`
	Timestep Quantity `yaml:"timestep,omitempty" json:"timestep,omitempty"`
}

// Model is a transistor model reference: a file, a file with a .lib
// section, or a directory of model files.
type Model struct {
	Path    string
	Section string
	Dir     bool
}

// Trigger is an edge-triggered pin such as "posedge CLK".
type Trigger struct {
	Edge Edge
	Pin  string
}

func (t Trigger) String() string { return string(t.Edge) + " " + t.Pin }

// Bounds is a resolved search interval in library time units.
type Bounds struct {
	Highest  float64
	Lowest   float64
	Timestep float64
}

// Sequential holds the sequential-only part of a validated cell.
type Sequential struct {
	Clock     Trigger
	Set       *Trigger
	Reset     *Trigger
	Flops     []string
	ClockSlew float64
	Setup     Bounds
	Hold      Bounds
}

// Cell is a validated cell configuration. All "auto" values are resolved.
// Slews and timesteps are in library time units, loads in library
// capacitance units.
type Cell struct {
	Name        string
	Kind        Kind
	Inputs      []string
	Outputs     []string
	Functions   []string
	Area        float64
	Netlist     string
	Models      []Model
	Slews       []float64
	Loads       []float64
	Timestep    float64
	TestVectors [][]string
	Plots       Plots

	// Sequential is nil for combinational cells.
	Sequential *Sequential
}

var upper = cases.Upper(language.Und)

func upperAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = upper.String(strings.TrimSpace(n))
	}
	return out
}

// NewCell validates spec and resolves its "auto" values. Relative netlist
// and model paths are resolved against baseDir.
func NewCell(spec CellSpec, baseDir string) (*Cell, error) {
	if spec.Name == "" {
		return nil, errs.Configf("name", "cell name is required")
	}
	c := &Cell{
		Name:        upper.String(spec.Name),
		Kind:        spec.Kind,
		Inputs:      upperAll(spec.Inputs),
		Outputs:     upperAll(spec.Outputs),
		Area:        spec.Area,
		TestVectors: spec.TestVectors,
		Plots:       spec.Plots,
	}
	if c.Kind == "" {
		c.Kind = KindCombinational
	}
	if c.Kind != KindCombinational && c.Kind != KindSequential {
		return nil, c.errorf("kind", "unknown cell kind %q", spec.Kind)
	}
	if len(c.Inputs) == 0 || len(c.Outputs) == 0 {
		return nil, c.errorf("inputs/outputs", "at least one input and one output pin are required")
	}
	if err := c.checkDistinct(append(append([]string{}, c.Inputs...), c.Outputs...)); err != nil {
		return nil, err
	}

	var err error
	if c.Functions, err = c.normalizeFunctions(spec.Functions); err != nil {
		return nil, err
	}
	if c.Netlist, err = c.resolveNetlist(spec.Netlist, baseDir); err != nil {
		return nil, err
	}
	if c.Models, err = c.resolveModels(spec.Models, baseDir); err != nil {
		return nil, err
	}
	for _, p := range c.Plots {
		if p != PlotIO && p != PlotDelay && p != PlotPower {
			return nil, c.errorf("plots", "invalid plot selection %q", p)
		}
	}

	// Sweeps must be populated before any "auto" value is derived from them.
	if c.Slews, err = c.checkSweep("slews", spec.Slews); err != nil {
		return nil, err
	}
	if c.Loads, err = c.checkSweep("loads", spec.Loads); err != nil {
		return nil, err
	}
	if c.Timestep, err = c.resolve("simulation_timestep", spec.SimulationTimestep, minOf, 0.1); err != nil {
		return nil, err
	}
	if c.Timestep <= 0 {
		return nil, c.errorf("simulation_timestep", "must be greater than zero, got %g", c.Timestep)
	}

	if c.Kind == KindSequential {
		if c.Sequential, err = c.newSequential(spec); err != nil {
			return nil, err
		}
	} else if spec.Clock != "" || spec.Set != "" || spec.Reset != "" {
		return nil, c.errorf("clock", "clock, set and reset are only valid for sequential cells")
	}

	if err := c.checkTestVectors(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate re-checks the sweep axes and timesteps of a cell that may have
// been built or modified outside NewCell.
func (c *Cell) Validate() error {
	if _, err := c.checkSweep("slews", c.Slews); err != nil {
		return err
	}
	if _, err := c.checkSweep("loads", c.Loads); err != nil {
		return err
	}
	if c.Timestep <= 0 {
		return c.errorf("simulation_timestep", "must be greater than zero, got %g", c.Timestep)
	}
	if s := c.Sequential; s != nil {
		for field, b := range map[string]Bounds{"simulation.setup": s.Setup, "simulation.hold": s.Hold} {
			if b.Timestep <= 0 || b.Highest <= b.Lowest {
				return c.errorf(field, "invalid search bounds [%g, %g] with timestep %g", b.Lowest, b.Highest, b.Timestep)
			}
		}
	}
	return c.checkTestVectors()
}

func (c *Cell) errorf(field, format string, args ...any) error {
	return errs.Configf(fmt.Sprintf("cell %s: %s", c.Name, field), format, args...)
}

func (c *Cell) checkDistinct(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return c.errorf("pins", "empty pin name")
		}
		if seen[n] {
			return c.errorf("pins", "duplicate pin %q", n)
		}
		seen[n] = true
	}
	return nil
}

// normalizeFunctions checks each "Y=expr" assignment targets an output.
// Non-blocking "Q<=D" assignments are accepted for sequential cells.
func (c *Cell) normalizeFunctions(functions []string) ([]string, error) {
	out := make([]string, 0, len(functions))
	for _, fn := range functions {
		lhs, rhs, ok := strings.Cut(upper.String(fn), "=")
		if !ok || strings.TrimSpace(rhs) == "" {
			return nil, c.errorf("functions", `expected an expression of the form "Y=A&B", got %q`, fn)
		}
		pin := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(lhs), "<"))
		if !contains(c.Outputs, pin) {
			return nil, c.errorf("functions", "function %q assigns %s, which is not an output pin", fn, pin)
		}
		out = append(out, pin+"="+strings.TrimSpace(rhs))
	}
	return out, nil
}

func (c *Cell) resolveNetlist(path, baseDir string) (string, error) {
	if path == "" {
		return "", c.errorf("netlist", "netlist path is required")
	}
	path = resolvePath(path, baseDir)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", c.errorf("netlist", "%s is not a file", path)
	}
	return path, nil
}

func (c *Cell) resolveModels(models []string, baseDir string) ([]Model, error) {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		fields := strings.Fields(m)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, c.errorf("models", "invalid model %q", m)
		}
		path := resolvePath(fields[0], baseDir)
		info, err := os.Stat(path)
		if err != nil {
			return nil, c.errorf("models", "model %s not found", path)
		}
		switch {
		case len(fields) == 2 && info.IsDir():
			return nil, c.errorf("models", "invalid model %q: %s is not a file", m, path)
		case len(fields) == 2:
			out = append(out, Model{Path: path, Section: fields[1]})
		default:
			out = append(out, Model{Path: path, Dir: info.IsDir()})
		}
	}
	return out, nil
}

func (c *Cell) checkSweep(field string, values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, c.errorf(field, "must not be empty")
	}
	for _, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, c.errorf(field, "values must be strictly positive, got %g", v)
		}
	}
	return append([]float64(nil), values...), nil
}

// resolve returns q's explicit value, or factor*pick(slews) when q is auto
// or unset.
func (c *Cell) resolve(field string, q Quantity, pick func([]float64) float64, factor float64) (float64, error) {
	if q.Set && !q.Auto {
		return q.Value, nil
	}
	if len(c.Slews) == 0 {
		return 0, c.errorf(field, "cannot use auto unless slews are set first")
	}
	return pick(c.Slews) * factor, nil
}

func (c *Cell) newSequential(spec CellSpec) (*Sequential, error) {
	seq := &Sequential{Flops: upperAll(spec.Flops)}

	clock, err := c.parseTrigger("clock", spec.Clock)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, c.errorf("clock", "sequential cells require a clock (e.g. \"posedge CLK\")")
	}
	seq.Clock = *clock
	if seq.Set, err = c.parseTrigger("set", spec.Set); err != nil {
		return nil, err
	}
	if seq.Reset, err = c.parseTrigger("reset", spec.Reset); err != nil {
		return nil, err
	}

	pins := append(append([]string{}, c.Inputs...), c.Outputs...)
	for _, t := range []*Trigger{&seq.Clock, seq.Set, seq.Reset} {
		if t != nil {
			pins = append(pins, t.Pin)
		}
	}
	if err := c.checkDistinct(pins); err != nil {
		return nil, err
	}

	if seq.ClockSlew, err = c.resolve("clock_slew", spec.ClockSlew, minOf, 1); err != nil {
		return nil, err
	}
	if seq.ClockSlew <= 0 {
		return nil, c.errorf("clock_slew", "must be greater than zero, got %g", seq.ClockSlew)
	}

	search := SearchSpec{}
	if spec.Simulation != nil {
		search = *spec.Simulation
	}
	if seq.Setup, err = c.resolveBounds("simulation.setup", search.Setup, maxOf); err != nil {
		return nil, err
	}
	if seq.Hold, err = c.resolveBounds("simulation.hold", search.Hold, minOf); err != nil {
		return nil, err
	}
	return seq, nil
}

// resolveBounds applies the auto rules: highest = 10*max(slews),
// lowest = -10*lowPick(slews), timestep = min(slews)/10.
func (c *Cell) resolveBounds(field string, spec BoundsSpec, lowPick func([]float64) float64) (Bounds, error) {
	var b Bounds
	var err error
	if b.Highest, err = c.resolve(field+".highest", spec.Highest, maxOf, 10); err != nil {
		return b, err
	}
	if b.Lowest, err = c.resolve(field+".lowest", spec.Lowest, lowPick, -10); err != nil {
		return b, err
	}
	if b.Timestep, err = c.resolve(field+".timestep", spec.Timestep, minOf, 0.1); err != nil {
		return b, err
	}
	if b.Timestep <= 0 {
		return b, c.errorf(field+".timestep", "must be greater than zero, got %g", b.Timestep)
	}
	if b.Highest <= b.Lowest {
		return b, c.errorf(field, "highest (%g) must be above lowest (%g)", b.Highest, b.Lowest)
	}
	return b, nil
}

func (c *Cell) parseTrigger(field, value string) (*Trigger, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return nil, c.errorf(field, `invalid edge-triggered pin %q: include both the trigger type and pin name (e.g. "posedge CLK")`, value)
	}
	edge := Edge(strings.ToLower(parts[0]))
	if edge != Posedge && edge != Negedge {
		return nil, c.errorf(field, `invalid trigger type %q: must be one of "posedge" or "negedge"`, parts[0])
	}
	return &Trigger{Edge: edge, Pin: upper.String(parts[1])}, nil
}

// VectorLength returns the number of entries a test vector must have:
// clock, set, reset, flops, inputs, outputs (sequential), or
// inputs, outputs (combinational).
func (c *Cell) VectorLength() int {
	n := len(c.Inputs) + len(c.Outputs)
	if s := c.Sequential; s != nil {
		n += 1 + len(s.Flops)
		if s.Set != nil {
			n++
		}
		if s.Reset != nil {
			n++
		}
	}
	return n
}

func (c *Cell) checkTestVectors() error {
	want := c.VectorLength()
	for i, v := range c.TestVectors {
		if len(v) != want {
			return c.errorf(fmt.Sprintf("test_vectors[%d]", i), "expected %d entries, got %d", want, len(v))
		}
	}
	return nil
}

func resolvePath(path, baseDir string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = math.Max(m, v)
	}
	return m
}
