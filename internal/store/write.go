package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/harness"
)

// RunInput is the outcome of one cell characterization.
type RunInput struct {
	Cell      *cell.Cell
	Kind      config.Kind
	Settings  config.Settings
	Simulator string

	// Harnesses are every simulated harness; Selected those the tables
	// were built from.
	Harnesses []*harness.Harness
	Selected  []*harness.Harness
}

// SaveRun writes a run with its pins, timing tables and harnesses in one
// transaction and returns the stored run.
func (s *Store) SaveRun(ctx context.Context, in RunInput) (Run, error) {
	settingsJSON, err := marshalSettings(in.Settings)
	if err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("save run: begin: %w", err)
	}
	defer tx.Rollback()

	run := Run{
		ID:              s.ids.Generate(),
		Cell:            in.Cell.Name,
		Kind:            string(in.Kind),
		Simulator:       in.Simulator,
		TimeUnit:        in.Settings.Units.Time,
		CapacitanceUnit: in.Settings.Units.Capacitance,
		CreatedAt:       s.now().UTC().Truncate(time.Second),
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("save run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, cell, kind, simulator, settings, time_unit, capacitance_unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.Cell,
		run.Kind,
		run.Simulator,
		settingsJSON,
		run.TimeUnit,
		run.CapacitanceUnit,
		run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}

	if err := writePins(ctx, tx, run.ID, in.Cell); err != nil {
		return Run{}, err
	}
	if err := writeTables(ctx, tx, run.ID, in.Cell); err != nil {
		return Run{}, err
	}
	if err := writeHarnesses(ctx, tx, run.ID, in.Harnesses, in.Selected); err != nil {
		return Run{}, err
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("save run: commit: %w", err)
	}
	return run, nil
}

func writePins(ctx context.Context, tx *sql.Tx, runID string, c *cell.Cell) error {
	for i, p := range c.Pins() {
		function := ""
		if p.Function != nil {
			function = p.Function.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pins (run_id, position, name, direction, role, capacitance, function)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, i, p.Name, string(p.Direction), string(p.Role), p.Capacitance, function)
		if err != nil {
			return fmt.Errorf("save pin %s: %w", p.Name, err)
		}
	}
	return nil
}

func writeTables(ctx context.Context, tx *sql.Tx, runID string, c *cell.Cell) error {
	for _, out := range c.Outputs() {
		for _, timing := range out.Timings() {
			for i, t := range timing.Tables {
				index1, err := marshalFloats(t.Index1)
				if err != nil {
					return err
				}
				index2, err := marshalFloats(t.Index2)
				if err != nil {
					return err
				}
				values, err := marshalFloats(t.Values)
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx, `
					INSERT INTO timing_tables
					(run_id, pin, related_pin, kind, position, template, index_1, index_2, vals)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, runID, out.Name, timing.RelatedPin, t.Kind, i, t.Template, index1, index2, values)
				if err != nil {
					return fmt.Errorf("save table %s %s->%s: %w", t.Kind, timing.RelatedPin, out.Name, err)
				}
			}
		}
	}
	return nil
}

func writeHarnesses(ctx context.Context, tx *sql.Tx, runID string, all, selected []*harness.Harness) error {
	chosen := make(map[*harness.Harness]bool, len(selected))
	for _, h := range selected {
		chosen[h] = true
	}
	for i, h := range all {
		margins, err := marshalMargins(harnessMargins(h))
		if err != nil {
			return fmt.Errorf("save harness %s: %w", h, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO harnesses (run_id, position, arc, direction, description, average_delay, selected, margins)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, i, h.Arc(), string(h.Direction()), h.String(), h.AveragePropagationDelay(), chosen[h], margins)
		if err != nil {
			return fmt.Errorf("save harness %s: %w", h, err)
		}
	}
	return nil
}

// harnessMargins returns the setup and hold results of a sequential
// harness in sweep order, or nil for a combinational one.
func harnessMargins(h *harness.Harness) []Margin {
	if h.Clock == nil {
		return nil
	}
	var out []Margin
	for _, key := range h.Keys() {
		var m Margin
		if s := h.Sample(key); s != nil {
			m = Margin{Setup: s.Setup, Hold: s.Hold, MeasuredSetup: s.SetupMargin, MeasuredHold: s.HoldMargin}
		}
		out = append(out, m)
	}
	return out
}
