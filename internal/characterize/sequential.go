package characterize

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/logic"
	"github.com/roach88/charlib/internal/netlist"
	"github.com/roach88/charlib/internal/spice"
)

// SequentialTestManager characterizes edge-triggered cells. Every sweep
// point first converges the setup time, then the hold time, and keeps the
// delays of the last hold trial that captured.
type SequentialTestManager struct {
	*TestManager
	seq *config.Sequential
}

// NewSequential returns a manager for a sequential cell.
func NewSequential(cfg *config.Cell, settings config.Settings, sim spice.Simulator, opts ...Option) (*SequentialTestManager, error) {
	return newSequential(cfg, settings, sim, resolveOptions(settings, sim, opts))
}

func newSequential(cfg *config.Cell, settings config.Settings, sim spice.Simulator, o options) (*SequentialTestManager, error) {
	if cfg != nil && (cfg.Kind != config.KindSequential || cfg.Sequential == nil) {
		return nil, errs.Configf("cell "+cfg.Name+": kind", "expected a sequential cell, got %s", cfg.Kind)
	}
	tm, err := newTestManager(cfg, settings, sim, o)
	if err != nil {
		return nil, err
	}
	return &SequentialTestManager{TestManager: tm, seq: cfg.Sequential}, nil
}

func (m *SequentialTestManager) layout() harness.Layout {
	return harness.Layout{
		Inputs:  m.cfg.Inputs,
		Outputs: m.cfg.Outputs,
		Clock:   &m.seq.Clock,
		Set:     m.seq.Set,
		Reset:   m.seq.Reset,
		Flops:   m.seq.Flops,
	}
}

// clockPattern returns the clock levels before and after each of the three
// edges of a trial: inactive, active, inactive, active.
func clockPattern(edge config.Edge) string {
	if edge == config.Negedge {
		return "1010"
	}
	return "0101"
}

// inactiveLevel returns the level at which a set or reset pin is released.
func inactiveLevel(t *config.Trigger) string {
	if t.Edge == config.Negedge {
		return logic.High
	}
	return logic.Low
}

// TestVectors returns the configured vectors, or one vector per output,
// input and direction. Vectors are laid out as clock, set, reset, register
// bits, inputs and outputs. Register bits are held at zero; the captured
// value is set up by the data edges of each trial instead.
func (m *SequentialTestManager) TestVectors() ([][]string, error) {
	if len(m.cfg.TestVectors) > 0 {
		return copyVectors(m.cfg.TestVectors), nil
	}
	var vectors [][]string
	for _, q := range m.cfg.Outputs {
		for _, d := range m.cfg.Inputs {
			for _, dir := range []string{logic.Rise, logic.Fall} {
				v := []string{clockPattern(m.seq.Clock.Edge)}
				if m.seq.Set != nil {
					v = append(v, inactiveLevel(m.seq.Set))
				}
				if m.seq.Reset != nil {
					v = append(v, inactiveLevel(m.seq.Reset))
				}
				for range m.seq.Flops {
					v = append(v, logic.Low)
				}
				for _, in := range m.cfg.Inputs {
					v = append(v, pick(in == d, dir, logic.Low))
				}
				for _, out := range m.cfg.Outputs {
					v = append(v, pick(out == q, dir, logic.Low))
				}
				vectors = append(vectors, v)
			}
		}
	}
	return vectors, nil
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

// captureEdge returns the direction of the third clock edge of pattern.
func captureEdge(pattern string) (harness.Direction, bool) {
	return harness.ParseDirection(pattern[2:4])
}

// Characterize measures input capacitances including the clock, set and
// reset pins, converges setup and hold at every sweep point and builds one
// set of tables per input, output pair.
func (m *SequentialTestManager) Characterize(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	def, err := m.Definition()
	if err != nil {
		return err
	}
	if _, _, err := m.models(); err != nil {
		return err
	}
	vectors, err := m.TestVectors()
	if err != nil {
		return err
	}
	harnesses, err := m.buildHarnesses(vectors, m.layout())
	if err != nil {
		return err
	}
	for _, h := range harnesses {
		if _, ok := captureEdge(h.Clock.State); !ok {
			return errs.Configf("cell "+m.cfg.Name+": test_vectors", "clock pattern %q has no capture edge after the second edge", h.Clock.State)
		}
	}
	m.logger.Info("characterizing cell", "kind", m.cfg.Kind, "harnesses", len(harnesses),
		"slews", len(m.cfg.Slews), "loads", len(m.cfg.Loads))

	var pins []*cell.Pin
	for _, p := range m.cell.Pins() {
		if p.Direction == cell.Input {
			pins = append(pins, p)
		}
	}
	if err := m.measureCapacitances(ctx, pins); err != nil {
		return err
	}

	for _, h := range harnesses {
		err := m.sweep(ctx, h, func(ctx context.Context, key harness.SweepKey) (*harness.Sample, error) {
			return m.characterizePoint(ctx, def, h, key)
		})
		if err != nil {
			return err
		}
	}

	var selected []*harness.Harness
	for _, out := range m.cfg.Outputs {
		for _, in := range m.cfg.Inputs {
			rise := harness.FindByArc(harnesses, in, out, harness.Rise)
			fall := harness.FindByArc(harnesses, in, out, harness.Fall)
			if rise == nil && fall == nil {
				continue
			}
			if rise == nil || fall == nil {
				return errs.Configf("cell "+m.cfg.Name+": test_vectors", "arc %s->%s is only exercised in one output direction", in, out)
			}
			if err := m.addTables(in, out, rise, fall); err != nil {
				return err
			}
			selected = append(selected, rise, fall)
		}
	}
	m.logger.Info("characterized cell", "arcs", len(selected)/2)
	return m.finish(ctx, harnesses, selected)
}

// characterizePoint converges setup, then hold with the converged setup,
// and returns the sample of the last capturing hold trial.
func (m *SequentialTestManager) characterizePoint(ctx context.Context, def *netlist.Definition, h *harness.Harness, key harness.SweepKey) (*harness.Sample, error) {
	setup, err := m.findSetupTime(ctx, def, h, key)
	if err != nil {
		return nil, err
	}
	_, s, err := m.findHoldTime(ctx, def, h, key, setup)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// findSetupTime converges the setup time with hold at its upper bound.
func (m *SequentialTestManager) findSetupTime(ctx context.Context, def *netlist.Definition, h *harness.Harness, key harness.SweepKey) (float64, error) {
	hold := m.seq.Hold.Highest * m.settings.Units.TimeScale()
	res, err := m.search(ctx, "setup", m.seq.Setup, h, key, func(ctx context.Context, t float64) (*harness.Sample, error) {
		return m.runDelayTrial(ctx, def, h, key, t, hold)
	})
	if err != nil {
		return 0, err
	}
	return res.Offset, nil
}

// findHoldTime converges the hold time at the given setup time.
func (m *SequentialTestManager) findHoldTime(ctx context.Context, def *netlist.Definition, h *harness.Harness, key harness.SweepKey, setup float64) (float64, *harness.Sample, error) {
	res, err := m.search(ctx, "hold", m.seq.Hold, h, key, func(ctx context.Context, t float64) (*harness.Sample, error) {
		return m.runDelayTrial(ctx, def, h, key, setup, t)
	})
	if err != nil {
		return 0, nil, err
	}
	return res.Offset, res.Sample, nil
}

func (m *SequentialTestManager) search(ctx context.Context, name string, b config.Bounds, h *harness.Harness, key harness.SweepKey, run probe) (searchResult, error) {
	scale := m.settings.Units.TimeScale()
	res, err := bisect(ctx, b.Lowest*scale, b.Highest*scale, b.Timestep*scale, run)
	if err != nil {
		return res, err
	}
	if !res.Found {
		return res, &errs.ResultError{
			Trial:       fmt.Sprintf("%s_%s_slew%d_load%d", m.cfg.Name, h.ShortString(), key.Slew, key.Load),
			Measurement: "prop_in_out",
			Err:         fmt.Errorf("no %s time in [%g, %g] %s captures", name, b.Lowest, b.Highest, m.settings.Units.Time),
		}
	}
	m.logger.Debug("converged "+name+" time", "harness", h.String(), "key", key.String(),
		name, res.Offset/scale, "iterations", res.Iterations)
	return res, nil
}

// timeline places the three clock edges and two data edges of a
// sequential trial, all in seconds. Each edge is a (start, end) pair.
//
// The first two clock edges clear the register. The first data edge sets
// up the captured value ahead of the third clock edge, which captures it.
// The second data edge restores the input after the hold time.
type timeline struct {
	clock   [3][2]float64
	data    [2][2]float64
	removal float64
	end     float64
}

func newTimeline(dataSlew, clockSlew, setup, hold, step float64) timeline {
	stab := 100*dataSlew + math.Abs(setup) + math.Abs(hold)
	edge := func(start, slew float64) [2]float64 { return [2]float64{start, start + slew} }

	var tl timeline
	tl.clock[0] = edge(dataSlew+math.Abs(setup), clockSlew)
	tl.clock[1] = edge(tl.clock[0][1]+math.Abs(hold)+clockSlew, clockSlew)
	tl.removal = tl.clock[1][1] + math.Abs(hold) + clockSlew
	tl.data[0] = edge(tl.removal+stab, dataSlew)
	tl.clock[2] = edge(tl.data[0][1]+setup, clockSlew)
	// A negative hold may not pull the second data edge before the first.
	tl.data[1] = edge(math.Max(tl.clock[2][1]+hold, tl.data[0][1]+step), dataSlew)
	tl.end = math.Max(tl.data[1][1], tl.clock[2][1]) + stab
	return tl
}

// runDelayTrial runs one sequential trial with the given setup and hold
// offsets in seconds. A capture failure surfaces as a ResultError from
// the missing output transition.
func (m *SequentialTestManager) runDelayTrial(ctx context.Context, def *netlist.Definition, h *harness.Harness, key harness.SweepKey, setup, hold float64) (*harness.Sample, error) {
	slew, load := m.slew(key), m.load(key)
	clockSlew := m.seq.ClockSlew * m.settings.Units.TimeScale()
	tl := newTimeline(slew, clockSlew, setup, hold, m.timestep())

	deck, err := m.newTransientDeck(fmt.Sprintf("%s_%s_slew%d_load%d", m.cfg.Name, h.ShortString(), key.Slew, key.Load))
	if err != nil {
		return nil, err
	}
	deck.SetParam("slew", slew)
	deck.SetParam("load", load)
	deck.SetParam("setup", setup)
	deck.SetParam("hold", hold)

	m.addSupplies(deck, load)

	v0, v1 := m.levels(h.Input.Direction)
	deck.Add(spice.PWL("in", "vin", "0", []spice.Point{
		{T: 0, V: v0},
		{T: tl.data[0][0], V: v0},
		{T: tl.data[0][1], V: v1},
		{T: tl.data[1][0], V: v1},
		{T: tl.data[1][1], V: v0},
		{T: tl.end, V: v0},
	}))

	pattern := h.Clock.State
	clock := []spice.Point{{T: 0, V: m.level(pattern[0:1])}}
	for i, e := range tl.clock {
		clock = append(clock,
			spice.Point{T: e[0], V: m.level(pattern[i : i+1])},
			spice.Point{T: e[1], V: m.level(pattern[i+1 : i+2])})
	}
	clock = append(clock, spice.Point{T: tl.end, V: m.level(pattern[3:4])})
	deck.Add(spice.PWL("cin", "vcin", "0", clock))

	if h.Set != nil {
		deck.Add(spice.DC("sin", "vsin", "0", m.level(h.Set.State)))
	}
	if h.Reset != nil {
		deck.Add(spice.DC("rin", "vrin", "0", m.level(h.Reset.State)))
	}
	if err := m.wire(deck, def, h); err != nil {
		return nil, err
	}

	for _, meas := range m.delayMeasures(h, tl.removal, spice.Last) {
		deck.Measure(meas)
	}
	capture, _ := captureEdge(pattern)
	in := h.Input.Direction
	deck.Measure(spice.Measurement{
		Name: "t_setup",
		Trig: spice.Crossing{Signal: "v(vin)", Value: m.threshold(in), Edge: in.Edge(), Occurrence: 1, Delay: tl.removal},
		Targ: spice.Crossing{Signal: "v(vcin)", Value: m.threshold(capture), Edge: capture.Edge(), Occurrence: 1, Delay: tl.removal},
	})
	deck.Measure(spice.Measurement{
		Name: "t_hold",
		Trig: spice.Crossing{Signal: "v(vcin)", Value: m.threshold(capture), Edge: capture.Edge(), Occurrence: 1, Delay: tl.removal},
		Targ: spice.Crossing{Signal: "v(vin)", Value: m.threshold(in.Opposite()), Edge: in.Opposite().Edge(), Occurrence: 1, Delay: tl.removal},
	})
	deck.Tran = &spice.Tran{Step: m.timestep(), Stop: tl.end}
	if m.cfg.Plots.Has(config.PlotIO) {
		deck.Save = []string{"v(vin)", "v(vcin)", "v(vout)"}
	}

	m.logger.Debug("running delay trial", "harness", h.String(), "slew", slew, "load", load, "setup", setup, "hold", hold)
	res, err := m.sim.Transient(ctx, deck)
	if err != nil {
		return nil, err
	}
	s, err := sample(res)
	if err != nil {
		return nil, err
	}
	s.Setup, s.Hold = setup, hold
	s.SetupMargin = res.Measurements["t_setup"]
	s.HoldMargin = res.Measurements["t_hold"]
	return s, nil
}
