package characterize

import (
	"context"
	"fmt"

	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/netlist"
	"github.com/roach88/charlib/internal/spice"
)

// CombinationalTestManager characterizes cells whose outputs are boolean
// functions of their inputs.
type CombinationalTestManager struct {
	*TestManager
}

// NewCombinational returns a manager for a combinational cell.
func NewCombinational(cfg *config.Cell, settings config.Settings, sim spice.Simulator, opts ...Option) (*CombinationalTestManager, error) {
	return newCombinational(cfg, settings, sim, resolveOptions(settings, sim, opts))
}

func newCombinational(cfg *config.Cell, settings config.Settings, sim spice.Simulator, o options) (*CombinationalTestManager, error) {
	if cfg != nil && cfg.Kind != config.KindCombinational {
		return nil, errs.Configf("cell "+cfg.Name+": kind", "expected a combinational cell, got %s", cfg.Kind)
	}
	tm, err := newTestManager(cfg, settings, sim, o)
	if err != nil {
		return nil, err
	}
	return &CombinationalTestManager{TestManager: tm}, nil
}

func (m *CombinationalTestManager) layout() harness.Layout {
	return harness.Layout{Inputs: m.cfg.Inputs, Outputs: m.cfg.Outputs}
}

// TestVectors returns the configured vectors, or one rise and one fall
// vector per sensitizing input assignment of every output function.
func (m *CombinationalTestManager) TestVectors() ([][]string, error) {
	if len(m.cfg.TestVectors) > 0 {
		return copyVectors(m.cfg.TestVectors), nil
	}
	var vectors [][]string
	for _, out := range m.cell.Outputs() {
		if out.Function == nil {
			continue
		}
		v, err := out.Function.TestVectors(m.cfg.Inputs, m.cfg.Outputs)
		if err != nil {
			return nil, &errs.ConfigurationError{Field: "cell " + m.cfg.Name + ": functions", Message: "cannot derive test vectors", Err: err}
		}
		vectors = append(vectors, v...)
	}
	return vectors, nil
}

// Characterize measures input capacitances, runs every harness over the
// sweep grid, keeps the worst-case harness per arc and direction, and
// builds the timing tables.
func (m *CombinationalTestManager) Characterize(ctx context.Context) error {
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
	m.logger.Info("characterizing cell", "kind", m.cfg.Kind, "harnesses", len(harnesses),
		"slews", len(m.cfg.Slews), "loads", len(m.cfg.Loads))

	if err := m.measureCapacitances(ctx, m.cell.Inputs()); err != nil {
		return err
	}

	for _, h := range harnesses {
		err := m.sweep(ctx, h, func(ctx context.Context, key harness.SweepKey) (*harness.Sample, error) {
			return m.runDelayTrial(ctx, def, h, key)
		})
		if err != nil {
			return err
		}
	}

	selected, err := m.assemble(harnesses)
	if err != nil {
		return err
	}
	m.logger.Info("characterized cell", "arcs", len(selected)/2)
	return m.finish(ctx, harnesses, selected)
}

// assemble picks the worst-case harness of every arc and direction and
// builds the tables from them. Arcs no harness exercises are skipped; an
// arc exercised in one direction only is an error.
func (m *CombinationalTestManager) assemble(harnesses []*harness.Harness) ([]*harness.Harness, error) {
	var selected []*harness.Harness
	for _, out := range m.cfg.Outputs {
		for _, in := range m.cfg.Inputs {
			rise, hasRise := harness.WorstCase(harnesses, in, out, harness.Rise)
			fall, hasFall := harness.WorstCase(harnesses, in, out, harness.Fall)
			if !hasRise && !hasFall {
				continue
			}
			if !hasRise || !hasFall {
				return nil, errs.Configf("cell "+m.cfg.Name+": test_vectors", "arc %s->%s is only exercised in one output direction", in, out)
			}
			m.logger.Debug("selected worst-case harnesses", "arc", in+"->"+out, "rise", rise.String(), "fall", fall.String())
			if err := m.addTables(in, out, rise, fall); err != nil {
				return nil, err
			}
			selected = append(selected, rise, fall)
		}
	}
	return selected, nil
}

// runDelayTrial drives the target input with a single ramp and measures
// the propagation delay and output transition.
func (m *CombinationalTestManager) runDelayTrial(ctx context.Context, def *netlist.Definition, h *harness.Harness, key harness.SweepKey) (*harness.Sample, error) {
	slew, load := m.slew(key), m.load(key)
	deck, err := m.newTransientDeck(fmt.Sprintf("%s_%s_slew%d_load%d", m.cfg.Name, h.ShortString(), key.Slew, key.Load))
	if err != nil {
		return nil, err
	}
	deck.SetParam("slew", slew)
	deck.SetParam("load", load)

	m.addSupplies(deck, load)
	v0, v1 := m.levels(h.Input.Direction)
	deck.Add(spice.PWL("in", "vin", "0", []spice.Point{
		{T: 0, V: v0},
		{T: slew, V: v0},
		{T: 2 * slew, V: v1},
		{T: 1000 * slew, V: v1},
	}))
	if err := m.wire(deck, def, h); err != nil {
		return nil, err
	}
	for _, meas := range m.delayMeasures(h, 0, 1) {
		deck.Measure(meas)
	}
	deck.Tran = &spice.Tran{Step: m.timestep(), Stop: 1000 * slew}
	if m.cfg.Plots.Has(config.PlotIO) {
		deck.Save = []string{"v(vin)", "v(vout)"}
	}

	m.logger.Debug("running delay trial", "harness", h.String(), "slew", slew, "load", load)
	res, err := m.sim.Transient(ctx, deck)
	if err != nil {
		return nil, err
	}
	return sample(res)
}

func copyVectors(vectors [][]string) [][]string {
	out := make([][]string, len(vectors))
	for i, v := range vectors {
		out[i] = append([]string(nil), v...)
	}
	return out
}
