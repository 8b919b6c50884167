package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/charlib/internal/cell"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one stored characterization.
type Run struct {
	ID              string    `json:"id"`
	Seq             int64     `json:"seq"`
	Cell            string    `json:"cell"`
	Kind            string    `json:"kind"`
	Simulator       string    `json:"simulator"`
	TimeUnit        string    `json:"time_unit"`
	CapacitanceUnit string    `json:"capacitance_unit"`
	CreatedAt       time.Time `json:"created_at"`
}

// Pin is a stored pin of a run.
type Pin struct {
	Name        string  `json:"name"`
	Direction   string  `json:"direction"`
	Role        string  `json:"role"`
	Capacitance float64 `json:"capacitance"`
	Function    string  `json:"function,omitempty"`
}

// Table is a stored timing table of a run.
type Table struct {
	Pin        string `json:"pin"`
	RelatedPin string `json:"related_pin"`
	cell.Table
}

// Harness is a stored harness summary of a run.
type Harness struct {
	Arc          string   `json:"arc"`
	Direction    string   `json:"direction"`
	Description  string   `json:"description"`
	AverageDelay float64  `json:"average_delay"`
	Selected     bool     `json:"selected"`
	Margins      []Margin `json:"margins,omitempty"`
}

// Margin is the setup and hold result of a sequential harness at one
// sweep point, in seconds.
type Margin struct {
	Setup         float64 `json:"setup"`
	Hold          float64 `json:"hold"`
	MeasuredSetup float64 `json:"measured_setup"`
	MeasuredHold  float64 `json:"measured_hold"`
}

const runColumns = `id, seq, cell, kind, simulator, time_unit, capacitance_unit, created_at`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var created string
	if err := row.Scan(&r.ID, &r.Seq, &r.Cell, &r.Kind, &r.Simulator, &r.TimeUnit, &r.CapacitanceUnit, &created); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at of run %s: %w", r.ID, err)
	}
	r.CreatedAt = t
	return r, nil
}

// Runs returns the runs of cell, or of every cell when cell is empty,
// oldest first.
func (s *Store) Runs(ctx context.Context, cellName string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR cell = ?
		ORDER BY seq ASC
	`, cellName, cellName)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Run returns the run with the given id, or ErrNotFound.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", id, err)
	}
	return r, nil
}

// LatestRun returns the most recent run of cell, or of any cell when cell
// is empty. It returns ErrNotFound when there is none.
func (s *Store) LatestRun(ctx context.Context, cellName string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR cell = ?
		ORDER BY seq DESC
		LIMIT 1
	`, cellName, cellName)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: no runs for %q", ErrNotFound, cellName)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query latest run: %w", err)
	}
	return r, nil
}

// Pins returns the pins of a run in declaration order.
func (s *Store) Pins(ctx context.Context, runID string) ([]Pin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, direction, role, capacitance, function
		FROM pins
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pins: %w", err)
	}
	defer rows.Close()

	pins := []Pin{}
	for rows.Next() {
		var p Pin
		if err := rows.Scan(&p.Name, &p.Direction, &p.Role, &p.Capacitance, &p.Function); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pins: %w", err)
	}
	return pins, nil
}

// Tables returns the timing tables of a run ordered by output pin, related
// pin and table kind order.
func (s *Store) Tables(ctx context.Context, runID string) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pin, related_pin, kind, template, index_1, index_2, vals
		FROM timing_tables
		WHERE run_id = ?
		ORDER BY pin COLLATE BINARY ASC, related_pin COLLATE BINARY ASC, position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []Table{}
	for rows.Next() {
		var t Table
		var index1, index2, values string
		if err := rows.Scan(&t.Pin, &t.RelatedPin, &t.Kind, &t.Template, &index1, &index2, &values); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if t.Index1, err = unmarshalFloats(index1); err != nil {
			return nil, err
		}
		if t.Index2, err = unmarshalFloats(index2); err != nil {
			return nil, err
		}
		if t.Values, err = unmarshalFloats(values); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// Harnesses returns the harness summaries of a run in simulation order.
func (s *Store) Harnesses(ctx context.Context, runID string) ([]Harness, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT arc, direction, description, average_delay, selected, margins
		FROM harnesses
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query harnesses: %w", err)
	}
	defer rows.Close()

	out := []Harness{}
	for rows.Next() {
		var h Harness
		var margins string
		if err := rows.Scan(&h.Arc, &h.Direction, &h.Description, &h.AverageDelay, &h.Selected, &margins); err != nil {
			return nil, fmt.Errorf("scan harness: %w", err)
		}
		if h.Margins, err = unmarshalMargins(margins); err != nil {
			return nil, fmt.Errorf("harness %s: %w", h.Description, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate harnesses: %w", err)
	}
	return out, nil
}
