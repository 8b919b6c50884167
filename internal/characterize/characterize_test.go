package characterize

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/netlist"
	"github.com/roach88/charlib/internal/report"
	"github.com/roach88/charlib/internal/spice"
	"github.com/roach88/charlib/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s := config.DefaultSettings()
	s.WorkDir = t.TempDir()
	return s
}

func newCell(t *testing.T, spec config.CellSpec) *config.Cell {
	t.Helper()
	c, err := config.NewCell(spec, "testdata")
	require.NoError(t, err)
	return c
}

func and2Spec() config.CellSpec {
	return config.CellSpec{
		Name:      "AND2",
		Inputs:    []string{"A", "B"},
		Outputs:   []string{"Y"},
		Functions: []string{"Y=A&B"},
		Netlist:   "cells.sp",
		Slews:     []float64{0.1},
		Loads:     []float64{0.01, 0.05},
	}
}

func dffSpec() config.CellSpec {
	return config.CellSpec{
		Name:      "DFF",
		Kind:      config.KindSequential,
		Inputs:    []string{"D"},
		Outputs:   []string{"Q"},
		Functions: []string{"Q<=D"},
		Clock:     "posedge CLK",
		Netlist:   "cells.sp",
		Slews:     []float64{0.1},
		Loads:     []float64{0.01},
	}
}

// recorder captures reporter input.
type recorder struct {
	mu     sync.Mutex
	inputs []report.Input
}

func (r *recorder) Report(_ context.Context, in report.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return nil
}

func TestCombinational_AND2Tables(t *testing.T) {
	oracle := testutil.NewOracle(true)
	rec := &recorder{}
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), oracle,
		WithLogger(discardLogger()), WithReporter(rec))
	require.NoError(t, err)

	require.NoError(t, m.Characterize(context.Background()))

	y := m.Cell().Pin("Y")
	require.NotNil(t, y)
	for _, in := range []string{"A", "B"} {
		timing := y.Timing(in)
		require.NotNil(t, timing, "timing %s->Y", in)
		require.Len(t, timing.Tables, 4)

		for _, kind := range []string{cell.CellRise, cell.CellFall, cell.RiseTransition, cell.FallTransition} {
			table := timing.Table(kind)
			require.NotNil(t, table, kind)
			assert.Equal(t, "delay_template_1x2", table.Template)
			assert.Equal(t, []float64{0.1}, table.Index1)
			assert.Equal(t, []float64{0.01, 0.05}, table.Index2)
			assert.Len(t, table.Values, 2)
		}

		// 50ps intrinsic + 0.3*100ps + 2kOhm * load
		assert.InDelta(t, 0.1, timing.Table(cell.CellRise).At(0, 0), 1e-9)
		assert.InDelta(t, 0.18, timing.Table(cell.CellRise).At(0, 1), 1e-9)
		assert.InDelta(t, 0.075, timing.Table(cell.RiseTransition).At(0, 0), 1e-9)
	}

	assert.Equal(t, 2, oracle.Calls("ac"))
	assert.Equal(t, 4*2, oracle.Calls("tran"))
	assert.InDelta(t, 0.002, m.Cell().Pin("A").Capacitance, 1e-9)
	assert.InDelta(t, 0.002, m.Cell().Pin("B").Capacitance, 1e-9)

	require.Len(t, rec.inputs, 1)
	assert.Len(t, rec.inputs[0].Harnesses, 4)
	assert.Len(t, rec.inputs[0].Selected, 4)
	for _, h := range rec.inputs[0].Harnesses {
		assert.True(t, h.Complete(), h.String())
	}
}

func TestCombinational_WorstCaseSelection(t *testing.T) {
	oracle := testutil.NewOracle(true)
	// XOR2 ports are A B Y VDD VSS; B held high is the slow case.
	oracle.Adjust = func(d *spice.Deck) float64 {
		for _, e := range d.Elements {
			if e.Name == "XDUT" && e.Nodes[1] == "vhigh" {
				return 10e-12
			}
		}
		return 0
	}

	spec := and2Spec()
	spec.Name = "XOR2"
	spec.Functions = []string{"Y=A^B"}
	spec.Loads = []float64{0.01}
	m, err := NewCombinational(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, m.Characterize(context.Background()))

	assert.Len(t, m.Harnesses(), 8)
	selected := m.Selected()
	require.Len(t, selected, 4)

	for _, h := range selected {
		if h.Input.Pin != "A" {
			continue
		}
		require.Len(t, h.StableInputs, 1)
		assert.Equal(t, "1", h.StableInputs[0].State, "worst case for %s", h)
	}

	timing := m.Cell().Pin("Y").Timing("A")
	require.NotNil(t, timing)
	assert.InDelta(t, 0.11, timing.Table(cell.CellRise).At(0, 0), 1e-9)
	assert.InDelta(t, 0.11, timing.Table(cell.CellFall).At(0, 0), 1e-9)
}

func TestCombinational_EmptySlewsFailsBeforeSimulation(t *testing.T) {
	oracle := testutil.NewOracle(true)
	cfg := newCell(t, and2Spec())
	cfg.Slews = nil

	m, err := NewCombinational(cfg, testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err), "got %v", err)
	assert.Zero(t, oracle.Calls("tran"))
	assert.Zero(t, oracle.Calls("ac"))
}

func TestCombinational_Idempotent(t *testing.T) {
	oracle := testutil.NewOracle(true)
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	snapshot := func() []cell.Table {
		var out []cell.Table
		for _, timing := range m.Cell().Pin("Y").Timings() {
			for _, table := range timing.Tables {
				out = append(out, *table)
			}
		}
		return out
	}

	require.NoError(t, m.Characterize(context.Background()))
	first := snapshot()
	require.NoError(t, m.Characterize(context.Background()))
	second := snapshot()

	assert.Len(t, first, 8)
	assert.Equal(t, first, second)
}

func TestCombinational_SerializedWithoutConcurrentInstances(t *testing.T) {
	oracle := testutil.NewOracle(false)
	settings := testSettings(t)
	settings.Multithreaded = true

	spec := and2Spec()
	spec.Slews = []float64{0.05, 0.1, 0.2}
	spec.Loads = []float64{0.01, 0.02, 0.05}
	m, err := NewCombinational(newCell(t, spec), settings, oracle, WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.Equal(t, "sequential", m.scheduler.Name())

	require.NoError(t, m.Characterize(context.Background()))
	assert.Equal(t, 1, oracle.PeakConcurrency())
	assert.Equal(t, 4*9, oracle.Calls("tran"))
}

func TestCombinational_WiringError(t *testing.T) {
	oracle := testutil.NewOracle(true)
	spec := and2Spec()
	spec.Name = "AND2_BODY"
	m, err := NewCombinational(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsWiring(err), "got %v", err)
	assert.Contains(t, err.Error(), "VPB")
	assert.Zero(t, oracle.Calls("tran"))
}

func TestCombinational_TrialFailureIsFatal(t *testing.T) {
	oracle := testutil.NewOracle(true)
	oracle.Fail = func(d *spice.Deck) bool { return strings.Contains(d.Title, "B10") }
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsResult(err), "got %v", err)
	assert.Nil(t, m.Cell().Pin("Y").Timing("B"))
}

func TestCombinational_MissingDefinition(t *testing.T) {
	spec := and2Spec()
	spec.Name = "NAND9"
	oracle := testutil.NewOracle(true)
	m, err := NewCombinational(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err), "got %v", err)
	assert.Zero(t, oracle.Calls("ac"))
}

func TestCombinational_ExplicitVectorsOneDirection(t *testing.T) {
	spec := and2Spec()
	spec.TestVectors = [][]string{{"01", "1", "01"}}
	m, err := NewCombinational(newCell(t, spec), testSettings(t), testutil.NewOracle(true), WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err), "got %v", err)
}

func TestCombinational_TestVectors(t *testing.T) {
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), testutil.NewOracle(true))
	require.NoError(t, err)

	vectors, err := m.TestVectors()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"01", "1", "01"},
		{"10", "1", "10"},
		{"1", "01", "01"},
		{"1", "10", "10"},
	}, vectors)
}

func TestCombinational_RejectsSequentialConfig(t *testing.T) {
	_, err := NewCombinational(newCell(t, dffSpec()), testSettings(t), testutil.NewOracle(true))
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestMeasureInputCapacitance(t *testing.T) {
	oracle := testutil.NewOracle(true)
	oracle.Capacitance = 3.5e-15
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	c, err := m.MeasureInputCapacitance(context.Background(), "A")
	require.NoError(t, err)
	assert.InDelta(t, 0.0035, c, 1e-9)
	assert.Equal(t, []string{"AND2_pin_A_cap"}, oracle.Titles())

	_, err = m.MeasureInputCapacitance(context.Background(), "Z")
	assert.True(t, errs.IsWiring(err), "got %v", err)
}

func TestMeasureInputCapacitance_FailedSweep(t *testing.T) {
	oracle := testutil.NewOracle(true)
	oracle.Fail = func(*spice.Deck) bool { return true }
	m, err := NewCombinational(newCell(t, and2Spec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	_, err = m.MeasureInputCapacitance(context.Background(), "A")
	assert.True(t, errs.IsResult(err), "got %v", err)
}

func TestMeasureInputCapacitance_PortNamesDoNotCollide(t *testing.T) {
	spec := and2Spec()
	spec.Name = "MUXI"
	spec.Inputs = []string{"IN", "EN"}
	spec.Functions = []string{"Y=!(IN&EN)"}

	var nodes []string
	oracle := testutil.NewOracle(true)
	oracle.Observe = func(deck *spice.Deck) {
		for _, e := range deck.Elements {
			if e.Name == netlist.InstanceName {
				nodes = e.Nodes
			}
		}
	}
	m, err := NewCombinational(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	_, err = m.MeasureInputCapacitance(context.Background(), "EN")
	require.NoError(t, err)
	assert.Equal(t, []string{"p_in", "vin", "p_y", "vdd", "vss"}, nodes)

	seen := map[string]bool{}
	for _, n := range nodes {
		assert.False(t, seen[n], "node %s wired twice", n)
		seen[n] = true
	}
}

func TestSlope(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	ys := []float64{3, 5, 7, 9}
	got, err := slope(xs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 2, got, 1e-12)

	_, err = slope([]float64{1, 1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestSequential_DFF(t *testing.T) {
	oracle := testutil.NewOracle(true)
	m, err := NewSequential(newCell(t, dffSpec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, m.Characterize(context.Background()))

	timing := m.Cell().Pin("Q").Timing("D")
	require.NotNil(t, timing)
	require.Len(t, timing.Tables, 4)
	assert.InDelta(t, 0.1, timing.Table(cell.CellRise).At(0, 0), 1e-9)

	// Clock and data capacitances.
	assert.Equal(t, 2, oracle.Calls("ac"))
	assert.InDelta(t, 0.002, m.Cell().Pin("CLK").Capacitance, 1e-9)

	step := 0.01e-9
	harnesses := m.Harnesses()
	require.Len(t, harnesses, 2)
	for _, h := range harnesses {
		s := h.Sample(harness.SweepKey{})
		require.NotNil(t, s, h.String())
		assert.GreaterOrEqual(t, s.Setup, oracle.SetupMin, h.String())
		assert.Less(t, s.Setup, oracle.SetupMin+2*step+1e-15, h.String())
		assert.GreaterOrEqual(t, s.Hold, oracle.HoldMin, h.String())
		assert.Less(t, s.Hold, oracle.HoldMin+2*step+1e-15, h.String())
		assert.Equal(t, s.Setup, s.SetupMargin, h.String())
		assert.Equal(t, s.Hold, s.HoldMargin, h.String())
	}

	// Setup and hold searches each span 2ns at a 10ps step.
	bound := int(math.Ceil(math.Log2(2e-9 / step)))
	calls := oracle.Calls("tran")
	assert.LessOrEqual(t, calls, 2*2*bound)
	assert.GreaterOrEqual(t, calls, 2*2)

	// One search pair per (D, Q, direction).
	titles := map[string]bool{}
	for _, title := range oracle.Titles() {
		titles[title] = true
	}
	assert.Equal(t, map[string]bool{
		"DFF_pin_CLK_cap":         true,
		"DFF_pin_D_cap":           true,
		"DFF_D01_Q01_slew0_load0": true,
		"DFF_D10_Q10_slew0_load0": true,
	}, titles)
}

func TestSequential_SetupSearchesBeforeHold(t *testing.T) {
	oracle := testutil.NewOracle(false)
	cfg := newCell(t, dffSpec())
	m, err := NewSequential(cfg, testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, m.Characterize(context.Background()))

	// Each search over [-1ns, 1ns] at a 10ps step takes 7 trials. The
	// first setup trial is the interval midpoint; the hold trials that
	// follow reuse the converged setup.
	offsets := oracle.SetupOffsets()
	require.Len(t, offsets, 2*(7+7))
	b := cfg.Sequential.Setup
	assert.InDelta(t, (b.Highest+b.Lowest)/2*1e-9, offsets[0], 1e-18)
	converged := m.Harnesses()[0].Sample(harness.SweepKey{}).Setup
	for _, s := range offsets[7:14] {
		assert.Equal(t, converged, s)
	}
}

func TestSequential_NeverCaptures(t *testing.T) {
	oracle := testutil.NewOracle(true)
	oracle.SetupMin = 5e-9
	m, err := NewSequential(newCell(t, dffSpec()), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsResult(err), "got %v", err)
}

func TestSequential_TestVectors(t *testing.T) {
	spec := dffSpec()
	spec.Name = "DFFR"
	spec.Reset = "negedge RN"
	spec.Flops = []string{"IQ"}
	m, err := NewSequential(newCell(t, spec), testSettings(t), testutil.NewOracle(true))
	require.NoError(t, err)

	vectors, err := m.TestVectors()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"0101", "1", "0", "01", "01"},
		{"0101", "1", "0", "10", "10"},
	}, vectors)
}

func TestSequential_NegedgeClockPattern(t *testing.T) {
	spec := dffSpec()
	spec.Clock = "negedge CLK"
	m, err := NewSequential(newCell(t, spec), testSettings(t), testutil.NewOracle(true))
	require.NoError(t, err)

	vectors, err := m.TestVectors()
	require.NoError(t, err)
	for _, v := range vectors {
		assert.Equal(t, "1010", v[0])
		dir, ok := captureEdge(v[0])
		require.True(t, ok)
		assert.Equal(t, harness.Fall, dir)
	}
}

func TestSequential_ResetDrivenInactive(t *testing.T) {
	oracle := testutil.NewOracle(true)
	var mu sync.Mutex
	var resets []spice.Element
	oracle.Adjust = func(d *spice.Deck) float64 {
		for _, e := range d.Elements {
			if e.Name == "Vrin" {
				mu.Lock()
				resets = append(resets, e)
				mu.Unlock()
			}
		}
		return 0
	}

	spec := dffSpec()
	spec.Name = "DFFR"
	spec.Reset = "negedge RN"
	m, err := NewSequential(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, m.Characterize(context.Background()))

	require.NotEmpty(t, resets)
	for _, e := range resets {
		assert.Equal(t, "1.8", e.Value)
	}
	assert.InDelta(t, 0.002, m.Cell().Pin("RN").Capacitance, 1e-9)
}

func TestSequential_InvalidClockPattern(t *testing.T) {
	spec := dffSpec()
	spec.TestVectors = [][]string{{"0111", "01", "01"}}
	oracle := testutil.NewOracle(true)
	m, err := NewSequential(newCell(t, spec), testSettings(t), oracle, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Characterize(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err), "got %v", err)
	assert.Zero(t, oracle.Calls("ac"))
}

func TestTimeline_Ordering(t *testing.T) {
	for _, tc := range []struct {
		name        string
		setup, hold float64
	}{
		{"positive", 50e-12, 20e-12},
		{"negative setup", -80e-12, 20e-12},
		{"negative hold", 50e-12, -900e-12},
		{"both negative", -1e-9, -1e-9},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tl := newTimeline(100e-12, 100e-12, tc.setup, tc.hold, 10e-12)

			clock := []float64{0}
			for _, e := range tl.clock {
				clock = append(clock, e[0], e[1])
			}
			clock = append(clock, tl.end)
			for i := 1; i < len(clock); i++ {
				assert.Greater(t, clock[i], clock[i-1], "clock breakpoint %d", i)
			}

			data := []float64{0, tl.data[0][0], tl.data[0][1], tl.data[1][0], tl.data[1][1], tl.end}
			for i := 1; i < len(data); i++ {
				assert.Greater(t, data[i], data[i-1], "data breakpoint %d", i)
			}

			assert.Greater(t, tl.removal, tl.clock[1][1])
			assert.Greater(t, tl.data[0][0], tl.removal)
			assert.InDelta(t, tc.setup, tl.clock[2][0]-tl.data[0][1], 1e-18)
		})
	}
}
