// Package characterize drives the characterization of standard cells.
//
// A TestManager owns one cell: its validated configuration, the cell model
// that receives timing tables and pin capacitances, and the simulator that
// answers trials. CombinationalTestManager and SequentialTestManager add
// the stimulus, trial dispatch and table assembly of their cell kind. The
// Characterizer groups the managers of a library.
//
// # Trial flow
//
//  1. Validate the configuration and read the netlist definition.
//     Configuration problems surface here, before any simulation.
//  2. Build one harness per test vector.
//  3. Measure input capacitances with an AC sweep.
//  4. Run every harness over the (slew, load) grid through the Scheduler.
//  5. Assemble cell_rise, cell_fall, rise_transition and fall_transition
//     tables per arc and hand the outcome to the Reporter.
package characterize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/logic"
	"github.com/roach88/charlib/internal/netlist"
	"github.com/roach88/charlib/internal/report"
	"github.com/roach88/charlib/internal/spice"
)

// Manager is the per-cell characterization driver.
type Manager interface {
	Name() string
	Cell() *cell.Cell
	Config() *config.Cell

	// TestVectors returns the configured vectors, or generates them.
	TestVectors() ([][]string, error)

	// Characterize runs every trial and fills the cell's tables and
	// capacitances.
	Characterize(ctx context.Context) error

	// Harnesses returns the harnesses of the last run.
	Harnesses() []*harness.Harness

	// Selected returns the harnesses the timing tables were built from.
	Selected() []*harness.Harness

	SetExported()
	IsExported() bool
	Describe() string
}

// Option configures managers and the Characterizer.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	reporter  report.Reporter
	scheduler Scheduler
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReporter sets the reporter run after each cell.
func WithReporter(r report.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithScheduler overrides the trial scheduler derived from the simulator
// capabilities.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

func resolveOptions(settings config.Settings, sim spice.Simulator, opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.reporter == nil {
		o.reporter = report.Nop{}
	}
	if o.scheduler == nil {
		o.scheduler = NewScheduler(sim.Capabilities(), settings.Multithreaded)
	}
	return o
}

// Stimulus constants shared by every trial.
const (
	// capacitanceProbe is the AC source amplitude in amperes.
	capacitanceProbe = 1e-6

	// isolation is the resistance tying otherwise floating nodes to ground.
	isolation = 1e10

	// portLoad is the capacitance hung on the other ports during a
	// capacitance measurement.
	portLoad = 1e-12

	// floatingLoad is the capacitance on non-target outputs of a delay
	// trial.
	floatingLoad = 1e-15

	capacitanceVector = "mag(v(vin))"
)

var transientOptions = []string{"autostop", "nopage", "nomod", "post=1", "ingold=2", "trtol=1"}

// TestManager holds what every cell kind shares: configuration, cell
// model, simulator, and the netlist and model files decks include.
type TestManager struct {
	cfg       *config.Cell
	settings  config.Settings
	sim       spice.Simulator
	cell      *cell.Cell
	logger    *slog.Logger
	reporter  report.Reporter
	scheduler Scheduler

	mu        sync.Mutex
	netlist   *netlist.Netlist
	includes  []string
	libs      []spice.Lib
	modelsSet bool
	harnesses []*harness.Harness
	selected  []*harness.Harness
	exported  bool
}

func newTestManager(cfg *config.Cell, settings config.Settings, sim spice.Simulator, o options) (*TestManager, error) {
	if cfg == nil {
		return nil, errs.Configf("cell", "configuration is required")
	}
	m := &TestManager{
		cfg:       cfg,
		settings:  settings,
		sim:       sim,
		cell:      cell.New(cfg.Name, cfg.Area),
		logger:    o.logger.With("cell", cfg.Name),
		reporter:  o.reporter,
		scheduler: o.scheduler,
	}
	if err := m.buildCell(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TestManager) buildCell() error {
	add := func(name string, dir cell.Direction, role cell.Role) error {
		if _, err := m.cell.AddPin(name, dir, role); err != nil {
			return &errs.ConfigurationError{Field: "pins", Message: "invalid pin list", Err: err}
		}
		return nil
	}
	for _, in := range m.cfg.Inputs {
		if err := add(in, cell.Input, cell.RoleIO); err != nil {
			return err
		}
	}
	for _, out := range m.cfg.Outputs {
		if err := add(out, cell.Output, cell.RoleIO); err != nil {
			return err
		}
	}
	if seq := m.cfg.Sequential; seq != nil {
		if err := add(seq.Clock.Pin, cell.Input, cell.RoleClock); err != nil {
			return err
		}
		if seq.Set != nil {
			if err := add(seq.Set.Pin, cell.Input, cell.RoleSet); err != nil {
				return err
			}
		}
		if seq.Reset != nil {
			if err := add(seq.Reset.Pin, cell.Input, cell.RoleReset); err != nil {
				return err
			}
		}
	}

	for _, assignment := range m.cfg.Functions {
		fn, err := logic.ParseAssignment(assignment)
		if err != nil {
			return &errs.ConfigurationError{Field: "cell " + m.cfg.Name + ": functions", Message: "invalid function", Err: err}
		}
		m.cell.Pin(fn.Output).Function = fn
	}
	return nil
}

// Name returns the cell name.
func (m *TestManager) Name() string { return m.cfg.Name }

// Cell returns the cell model being characterized.
func (m *TestManager) Cell() *cell.Cell { return m.cell }

// Config returns the validated cell configuration.
func (m *TestManager) Config() *config.Cell { return m.cfg }

// SetExported marks the results as exported.
func (m *TestManager) SetExported() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exported = true
}

// IsExported reports whether the results have been exported since the
// last run.
func (m *TestManager) IsExported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exported
}

// Harnesses returns every harness of the last run.
func (m *TestManager) Harnesses() []*harness.Harness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*harness.Harness(nil), m.harnesses...)
}

// Selected returns the harnesses the timing tables were built from.
func (m *TestManager) Selected() []*harness.Harness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*harness.Harness(nil), m.selected...)
}

// Netlist reads the cell netlist once and returns it.
func (m *TestManager) Netlist() (*netlist.Netlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.netlist != nil {
		return m.netlist, nil
	}
	nl, err := netlist.Read(m.cfg.Netlist, m.cfg.Name)
	if err != nil {
		return nil, err
	}
	m.netlist = nl
	return nl, nil
}

// Definition returns the subcircuit definition of the cell.
func (m *TestManager) Definition() (*netlist.Definition, error) {
	nl, err := m.Netlist()
	if err != nil {
		return nil, err
	}
	return nl.Definition, nil
}

// models resolves the files every deck includes: the netlist, model
// files, .lib sections, and for model directories the files defining the
// subcircuits the netlist instantiates.
func (m *TestManager) models() ([]string, []spice.Lib, error) {
	nl, err := m.Netlist()
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modelsSet {
		return m.includes, m.libs, nil
	}

	includes := []string{m.cfg.Netlist}
	var libs []spice.Lib
	var dirs []*netlist.Library
	for _, model := range m.cfg.Models {
		switch {
		case model.Section != "":
			libs = append(libs, spice.Lib{Path: model.Path, Section: model.Section})
		case model.Dir:
			lib, err := netlist.ScanLibrary(model.Path)
			if err != nil {
				return nil, nil, &errs.ConfigurationError{Field: "cell " + m.cfg.Name + ": models", Message: "cannot scan model directory", Err: err}
			}
			dirs = append(dirs, lib)
		default:
			includes = append(includes, model.Path)
		}
	}

	if len(dirs) > 0 {
		unresolved := nl.UsedModels()
		for _, lib := range dirs {
			files, missing := lib.Files(unresolved)
			includes = append(includes, files...)
			unresolved = missing
		}
		if len(unresolved) > 0 {
			if len(includes) == 1 && len(libs) == 0 {
				return nil, nil, errs.Configf("cell "+m.cfg.Name+": models", "no model defines %s", strings.Join(unresolved, ", "))
			}
			m.logger.Debug("models not found in model directories", "models", unresolved)
		}
	}

	m.includes, m.libs, m.modelsSet = includes, libs, true
	return includes, libs, nil
}

func (m *TestManager) newDeck(title string) (*spice.Deck, error) {
	includes, libs, err := m.models()
	if err != nil {
		return nil, err
	}
	return &spice.Deck{
		Title:       title,
		Temperature: m.settings.Temperature,
		Includes:    append([]string(nil), includes...),
		Libs:        append([]spice.Lib(nil), libs...),
	}, nil
}

func (m *TestManager) newTransientDeck(title string) (*spice.Deck, error) {
	deck, err := m.newDeck(title)
	if err != nil {
		return nil, err
	}
	deck.Options = append([]string(nil), transientOptions...)
	return deck, nil
}

func (m *TestManager) isRail(port string) (node string, ok bool) {
	switch {
	case strings.EqualFold(port, m.settings.VDD.Name):
		return "vdd", true
	case strings.EqualFold(port, m.settings.VSS.Name):
		return "vss", true
	}
	return "", false
}

// MeasureInputCapacitance returns the capacitance of pin in library
// capacitance units. The pin is driven by a small AC current and the
// capacitance is the least-squares slope of admittance/(2*pi) over
// frequency.
func (m *TestManager) MeasureInputCapacitance(ctx context.Context, pin string) (float64, error) {
	def, err := m.Definition()
	if err != nil {
		return 0, err
	}
	if !containsPort(def.Ports, pin) {
		return 0, &errs.WiringError{Cell: m.cfg.Name, Port: pin, Definition: def.Line}
	}

	deck, err := m.newDeck(fmt.Sprintf("%s_pin_%s_cap", m.cfg.Name, pin))
	if err != nil {
		return 0, err
	}
	deck.Add(
		spice.DC("dd", "vdd", "0", m.settings.VDDVolts()),
		spice.DC("ss", "vss", "0", m.settings.VSSVolts()),
		spice.ACCurrent("in", "vin", "0", capacitanceProbe),
		spice.Resistor("in", "vin", "0", isolation),
	)

	nodes := make([]string, len(def.Ports))
	for i, port := range def.Ports {
		if port == pin {
			nodes[i] = "vin"
			continue
		}
		if rail, ok := m.isRail(port); ok {
			nodes[i] = rail
			continue
		}
		// Other ports get their own p_ nodes so a port named IN, DD or SS
		// never lands on the probe or a rail.
		name := "o_" + strings.ToLower(port)
		node := "p_" + strings.ToLower(port)
		nodes[i] = node
		deck.Add(
			spice.Capacitor(name, node, "0", portLoad),
			spice.Resistor(name, node, "0", isolation),
		)
	}
	deck.Add(spice.Instance(netlist.InstanceName, nodes, def.Name))
	deck.AC = &spice.ACSweep{PointsPerDecade: 100, Start: 10, Stop: 10e9}
	deck.Save = []string{capacitanceVector}

	m.logger.Debug("measuring input capacitance", "pin", pin)
	res, err := m.sim.AC(ctx, deck)
	if err != nil {
		return 0, err
	}

	freqs := res.Vector(spice.ScaleVector)
	mags := res.Vector(capacitanceVector)
	if len(freqs) < 2 || len(freqs) != len(mags) {
		return 0, &errs.ResultError{Trial: deck.Title, Measurement: capacitanceVector,
			Err: fmt.Errorf("got %d frequencies and %d magnitudes", len(freqs), len(mags))}
	}
	ys := make([]float64, len(mags))
	for i, mag := range mags {
		impedance := mag / capacitanceProbe
		ys[i] = (1 / impedance) / (2 * math.Pi)
	}
	farads, err := slope(freqs, ys)
	if err != nil {
		return 0, &errs.ResultError{Trial: deck.Title, Measurement: capacitanceVector, Err: err}
	}
	return farads / m.settings.Units.CapacitanceScale(), nil
}

// measureCapacitances fills the capacitance of every listed pin.
func (m *TestManager) measureCapacitances(ctx context.Context, pins []*cell.Pin) error {
	for _, p := range pins {
		c, err := m.MeasureInputCapacitance(ctx, p.Name)
		if err != nil {
			return fmt.Errorf("pin %s capacitance: %w", p.Name, err)
		}
		p.Capacitance = c
		m.logger.Debug("measured input capacitance", "pin", p.Name, "capacitance", c, "unit", m.settings.Units.Capacitance)
	}
	return nil
}

// slope returns the least-squares slope of ys over xs.
func slope(xs, ys []float64) (float64, error) {
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var num, den float64
	for i := range xs {
		dx := xs[i] - mx
		num += dx * (ys[i] - my)
		den += dx * dx
	}
	if den == 0 {
		return 0, fmt.Errorf("degenerate frequency axis")
	}
	return num / den, nil
}

// buildHarnesses turns every test vector into a harness sized to the
// sweep grid.
func (m *TestManager) buildHarnesses(vectors [][]string, layout harness.Layout) ([]*harness.Harness, error) {
	if len(vectors) == 0 {
		return nil, errs.Configf("cell "+m.cfg.Name+": test_vectors", "no test vectors; configure functions or test_vectors")
	}
	out := make([]*harness.Harness, 0, len(vectors))
	for _, v := range vectors {
		h, err := harness.New(v, layout, len(m.cfg.Slews), len(m.cfg.Loads))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// trial runs the simulation of harness h at one sweep point.
type trial func(ctx context.Context, key harness.SweepKey) (*harness.Sample, error)

// sweep runs fn at every sweep point of h through the scheduler and
// records the samples.
func (m *TestManager) sweep(ctx context.Context, h *harness.Harness, fn trial) error {
	m.logger.Debug("running harness", "harness", h.String(), "points", len(h.Keys()), "scheduler", m.scheduler.Name())
	return m.scheduler.Run(ctx, h.Keys(), func(ctx context.Context, key harness.SweepKey) error {
		s, err := fn(ctx, key)
		if err != nil {
			return fmt.Errorf("harness %s at %s: %w", h, key, err)
		}
		h.Record(key, s)
		return nil
	})
}

// slew returns the input slew of key in seconds.
func (m *TestManager) slew(key harness.SweepKey) float64 {
	return m.cfg.Slews[key.Slew] * m.settings.Units.TimeScale()
}

// load returns the output load of key in farads.
func (m *TestManager) load(key harness.SweepKey) float64 {
	return m.cfg.Loads[key.Load] * m.settings.Units.CapacitanceScale()
}

func (m *TestManager) timestep() float64 {
	return m.cfg.Timestep * m.settings.Units.TimeScale()
}

// threshold returns the switching threshold of a transition in volts.
func (m *TestManager) threshold(dir harness.Direction) float64 {
	if dir == harness.Rise {
		return m.settings.RiseThreshold()
	}
	return m.settings.FallThreshold()
}

// levels returns the start and end voltage of a transition.
func (m *TestManager) levels(dir harness.Direction) (float64, float64) {
	if dir == harness.Rise {
		return m.settings.VSSVolts(), m.settings.VDDVolts()
	}
	return m.settings.VDDVolts(), m.settings.VSSVolts()
}

func (m *TestManager) level(state string) float64 {
	if state == logic.High {
		return m.settings.VDDVolts()
	}
	return m.settings.VSSVolts()
}

// addSupplies adds the static rails, the dynamic supply pair and the
// output load.
func (m *TestManager) addSupplies(deck *spice.Deck, load float64) {
	vdd, vss := m.settings.VDDVolts(), m.settings.VSSVolts()
	deck.Add(
		spice.DC("high", "vhigh", "0", vdd),
		spice.DC("low", "vlow", "0", vss),
		spice.DC("dd_dyn", "vdd_dyn", "0", vdd),
		spice.DC("ss_dyn", "vss_dyn", "0", vss),
		spice.DC("o_cap", "vout", "wout", 0),
		spice.Capacitor("0", "wout", "vss_dyn", load),
	)
}

// wire instantiates the cell, mapping each definition port to its role in
// h. A port without a role is a WiringError.
func (m *TestManager) wire(deck *spice.Deck, def *netlist.Definition, h *harness.Harness) error {
	nodes := make([]string, len(def.Ports))
	for i, port := range def.Ports {
		node, ok := m.node(deck, h, port)
		if !ok {
			return &errs.WiringError{Cell: m.cfg.Name, Port: port, Definition: def.Line}
		}
		nodes[i] = node
	}
	deck.Add(spice.Instance(netlist.InstanceName, nodes, def.Name))
	return nil
}

func (m *TestManager) node(deck *spice.Deck, h *harness.Harness, port string) (string, bool) {
	switch {
	case port == h.Input.Pin:
		return "vin", true
	case port == h.Output.Pin:
		return "vout", true
	case h.Clock != nil && port == h.Clock.Pin:
		return "vcin", true
	case h.Set != nil && port == h.Set.Pin:
		return "vsin", true
	case h.Reset != nil && port == h.Reset.Pin:
		return "vrin", true
	}
	if rail, ok := m.isRail(port); ok {
		return rail + "_dyn", true
	}
	for _, s := range h.StableInputs {
		if s.Pin == port {
			if s.High() {
				return "vhigh", true
			}
			return "vlow", true
		}
	}
	for _, s := range h.FloatingOutputs {
		if s.Pin == port {
			name := "float_" + strings.ToLower(port)
			node := "w" + name
			deck.Add(
				spice.Capacitor(name, node, "vss_dyn", floatingLoad),
				spice.Resistor(name, node, "vss_dyn", isolation),
			)
			return node, true
		}
	}
	return "", false
}

// delayMeasures returns the propagation and transition measurements of a
// trial. Crossings before delay are ignored and occurrence selects the
// output crossing.
func (m *TestManager) delayMeasures(h *harness.Harness, delay float64, occurrence int) []spice.Measurement {
	in, out := h.Input.Direction, h.Output.Direction
	low, high := m.settings.LowThreshold(), m.settings.HighThreshold()
	first, second := low, high
	if out == harness.Fall {
		first, second = high, low
	}
	return []spice.Measurement{
		{
			Name: "prop_in_out",
			Trig: spice.Crossing{Signal: "v(vin)", Value: m.threshold(in), Edge: in.Edge(), Occurrence: 1, Delay: delay},
			Targ: spice.Crossing{Signal: "v(vout)", Value: m.threshold(out), Edge: out.Edge(), Occurrence: occurrence, Delay: delay},
		},
		{
			Name: "trans_out",
			Trig: spice.Crossing{Signal: "v(vout)", Value: first, Edge: out.Edge(), Occurrence: occurrence, Delay: delay},
			Targ: spice.Crossing{Signal: "v(vout)", Value: second, Edge: out.Edge(), Occurrence: occurrence, Delay: delay},
		},
	}
}

// sample reads the delay measurements of a finished trial.
func sample(res *spice.Result) (*harness.Sample, error) {
	prop, err := res.Measure("prop_in_out")
	if err != nil {
		return nil, err
	}
	trans, err := res.Measure("trans_out")
	if err != nil {
		return nil, err
	}
	return &harness.Sample{Result: res, PropagationDelay: prop, Transition: trans}, nil
}

// addTables attaches the four timing tables of in->out, taking rising
// values from rise and falling values from fall.
func (m *TestManager) addTables(in, out string, rise, fall *harness.Harness) error {
	pin := m.cell.Pin(out)
	if pin == nil {
		return fmt.Errorf("cell %s has no output %s", m.cfg.Name, out)
	}
	timing := pin.AddTiming(in)
	template := cell.TemplateName(len(m.cfg.Slews), len(m.cfg.Loads))
	scale := m.settings.Units.TimeScale()

	delay := func(s *harness.Sample) float64 { return s.PropagationDelay }
	transition := func(s *harness.Sample) float64 { return s.Transition }
	for _, t := range []struct {
		kind string
		h    *harness.Harness
		pick func(*harness.Sample) float64
	}{
		{cell.CellRise, rise, delay},
		{cell.CellFall, fall, delay},
		{cell.RiseTransition, rise, transition},
		{cell.FallTransition, fall, transition},
	} {
		keys := t.h.Keys()
		values := make([]float64, 0, len(keys))
		for _, key := range keys {
			s := t.h.Sample(key)
			if s == nil {
				return fmt.Errorf("harness %s has no result at %s", t.h, key)
			}
			values = append(values, t.pick(s)/scale)
		}
		if _, err := timing.AddTable(t.kind, template, values, m.cfg.Slews, m.cfg.Loads); err != nil {
			return err
		}
	}
	return nil
}

// finish stores the harnesses of a run and runs the reporter.
func (m *TestManager) finish(ctx context.Context, all, selected []*harness.Harness) error {
	m.mu.Lock()
	m.harnesses, m.selected = all, selected
	m.exported = false
	m.mu.Unlock()

	return m.reporter.Report(ctx, report.Input{
		Cell:      m.cell,
		Config:    m.cfg,
		Settings:  m.settings,
		Harnesses: all,
		Selected:  selected,
	})
}

// Describe summarizes the manager's configuration.
func (m *TestManager) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cell %s (%s)\n", m.cfg.Name, m.cfg.Kind)
	fmt.Fprintf(&sb, "  inputs:    %s\n", strings.Join(m.cfg.Inputs, ", "))
	fmt.Fprintf(&sb, "  outputs:   %s\n", strings.Join(m.cfg.Outputs, ", "))
	if len(m.cfg.Functions) > 0 {
		fmt.Fprintf(&sb, "  functions: %s\n", strings.Join(m.cfg.Functions, " "))
	}
	if seq := m.cfg.Sequential; seq != nil {
		fmt.Fprintf(&sb, "  clock:     %s (slew %g %s)\n", seq.Clock, seq.ClockSlew, m.settings.Units.Time)
		if seq.Set != nil {
			fmt.Fprintf(&sb, "  set:       %s\n", seq.Set)
		}
		if seq.Reset != nil {
			fmt.Fprintf(&sb, "  reset:     %s\n", seq.Reset)
		}
		fmt.Fprintf(&sb, "  setup:     [%g, %g] step %g\n", seq.Setup.Lowest, seq.Setup.Highest, seq.Setup.Timestep)
		fmt.Fprintf(&sb, "  hold:      [%g, %g] step %g\n", seq.Hold.Lowest, seq.Hold.Highest, seq.Hold.Timestep)
	}
	fmt.Fprintf(&sb, "  netlist:   %s\n", m.cfg.Netlist)
	if def, err := m.Definition(); err == nil {
		fmt.Fprintf(&sb, "  instance:  %s\n", def.Instance())
	}
	fmt.Fprintf(&sb, "  slews:     %s %s\n", joinFloats(m.cfg.Slews), m.settings.Units.Time)
	fmt.Fprintf(&sb, "  loads:     %s %s\n", joinFloats(m.cfg.Loads), m.settings.Units.Capacitance)
	fmt.Fprintf(&sb, "  timestep:  %g %s", m.cfg.Timestep, m.settings.Units.Time)
	return sb.String()
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = spice.Num(v)
	}
	return strings.Join(parts, ", ")
}

func containsPort(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}
