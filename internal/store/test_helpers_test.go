package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/logic"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun builds a characterized AND2: two inputs with measured
// capacitances, one output with a 1x2 cell_rise table, and two harnesses of
// which the first was selected.
func createTestRun(t *testing.T, name string) RunInput {
	t.Helper()

	c := cell.New(name, 1)
	for _, in := range []string{"A", "B"} {
		p, err := c.AddPin(in, cell.Input, cell.RoleIO)
		if err != nil {
			t.Fatalf("AddPin(%s) failed: %v", in, err)
		}
		p.Capacitance = 0.002
	}
	y, err := c.AddPin("Y", cell.Output, cell.RoleIO)
	if err != nil {
		t.Fatalf("AddPin(Y) failed: %v", err)
	}
	y.Function, err = logic.Parse("Y", "A&B")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	timing := y.AddTiming("A")
	if _, err := timing.AddTable(cell.CellRise, cell.TemplateName(1, 2), []float64{0.1, 0.18}, []float64{0.05}, []float64{0.01, 0.1}); err != nil {
		t.Fatalf("AddTable() failed: %v", err)
	}
	if _, err := timing.AddTable(cell.RiseTransition, cell.TemplateName(1, 2), []float64{0.075, 0.2}, []float64{0.05}, []float64{0.01, 0.1}); err != nil {
		t.Fatalf("AddTable() failed: %v", err)
	}

	layout := harness.Layout{Inputs: []string{"A", "B"}, Outputs: []string{"Y"}}
	var harnesses []*harness.Harness
	for _, vector := range [][]string{{"01", "1", "01"}, {"1", "01", "01"}} {
		h, err := harness.New(vector, layout, 1, 2)
		if err != nil {
			t.Fatalf("harness.New(%v) failed: %v", vector, err)
		}
		for _, key := range h.Keys() {
			h.Record(key, &harness.Sample{PropagationDelay: 1e-10, Transition: 5e-11})
		}
		harnesses = append(harnesses, h)
	}

	return RunInput{
		Cell:      c,
		Kind:      config.KindCombinational,
		Settings:  config.DefaultSettings(),
		Simulator: "ngspice",
		Harnesses: harnesses,
		Selected:  harnesses[:1],
	}
}
