// Package report writes optional artifacts after a cell has been
// characterized: waveform dumps of the simulated trials and a delay
// summary of the assembled tables.
//
// Reporting never runs while trials are in flight. A manager hands the
// finished harnesses and tables to a Reporter once table assembly is done.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/roach88/charlib/internal/cell"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/spice"
)

// Input is everything a reporter may look at for one cell.
type Input struct {
	Cell     *cell.Cell
	Config   *config.Cell
	Settings config.Settings

	// Harnesses are every harness simulated for the cell.
	Harnesses []*harness.Harness

	// Selected are the harnesses the timing tables were built from.
	Selected []*harness.Harness
}

// Reporter consumes the outcome of a characterization.
type Reporter interface {
	Report(ctx context.Context, in Input) error
}

// Nop discards everything.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, Input) error { return nil }

// Files writes reports into a directory according to the cell's plot
// selection.
type Files struct {
	dir    string
	logger *slog.Logger
}

// New returns a Files reporter writing into dir.
func New(dir string, logger *slog.Logger) *Files {
	if logger == nil {
		logger = slog.Default()
	}
	return &Files{dir: dir, logger: logger}
}

// Report implements Reporter.
func (f *Files) Report(ctx context.Context, in Input) error {
	plots := in.Config.Plots
	if len(plots) == 0 {
		return nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if plots.Has(config.PlotIO) {
		if err := f.writeWaveforms(ctx, in); err != nil {
			return err
		}
	}
	if plots.Has(config.PlotDelay) {
		if err := f.writeDelaySummary(in); err != nil {
			return err
		}
	}
	if plots.Has(config.PlotPower) {
		f.logger.Warn("power reporting is not supported", "cell", in.Cell.Name)
	}
	return nil
}

// writeWaveforms dumps the saved vectors of every trial as CSV, one file
// per harness and sweep point. Trials without vectors are skipped.
func (f *Files) writeWaveforms(ctx context.Context, in Input) error {
	for _, h := range in.Harnesses {
		for _, key := range h.Keys() {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := h.Sample(key)
			if s == nil || s.Result == nil || len(s.Result.Vectors) == 0 {
				continue
			}
			name := fmt.Sprintf("%s_%s_slew%d_load%d.csv", in.Cell.Name, h.ShortString(), key.Slew, key.Load)
			path := filepath.Join(f.dir, name)
			if err := writeVectors(path, s.Result); err != nil {
				return fmt.Errorf("write waveforms %s: %w", name, err)
			}
			f.logger.Debug("wrote waveforms", "cell", in.Cell.Name, "harness", h.String(), "path", path)
		}
	}
	return nil
}

// WaveformColumns returns the column order of a waveform file: the scale
// first, then the other vectors sorted by name.
func WaveformColumns(r *spice.Result) []string {
	cols := []string{spice.ScaleVector}
	var rest []string
	for name := range r.Vectors {
		if name != spice.ScaleVector {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func writeVectors(path string, r *spice.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	cols := WaveformColumns(r)
	w := csv.NewWriter(file)
	if err := w.Write(cols); err != nil {
		return err
	}
	rows := len(r.Vectors[spice.ScaleVector])
	for i := 0; i < rows; i++ {
		record := make([]string, len(cols))
		for j, c := range cols {
			if v := r.Vectors[c]; i < len(v) {
				record[j] = strconv.FormatFloat(v[i], 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func (f *Files) writeDelaySummary(in Input) error {
	path := filepath.Join(f.dir, in.Cell.Name+"_delay.txt")
	if err := os.WriteFile(path, []byte(DelaySummary(in)), 0o644); err != nil {
		return fmt.Errorf("write delay summary: %w", err)
	}
	f.logger.Info("wrote delay summary", "cell", in.Cell.Name, "path", path)
	return nil
}

// DelaySummary renders every timing table of the cell, followed by the
// harness each arc was measured with.
func DelaySummary(in Input) string {
	var sb strings.Builder
	units := in.Settings.Units
	fmt.Fprintf(&sb, "cell %s (times in %s, loads in %s)\n", in.Cell.Name, units.Time, units.Capacitance)

	for _, out := range in.Cell.Outputs() {
		for _, timing := range out.Timings() {
			for _, table := range timing.Tables {
				fmt.Fprintf(&sb, "\n%s -> %s %s\n", timing.RelatedPin, out.Name, table.Kind)
				tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', tabwriter.AlignRight)
				header := []string{"slew\\load"}
				for _, l := range table.Index2 {
					header = append(header, strconv.FormatFloat(l, 'g', -1, 64))
				}
				fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
				for i, s := range table.Index1 {
					row := []string{strconv.FormatFloat(s, 'g', -1, 64)}
					for j := range table.Index2 {
						row = append(row, strconv.FormatFloat(table.At(i, j), 'f', 6, 64))
					}
					fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
				}
				tw.Flush()
			}
		}
	}

	if len(in.Selected) > 0 {
		sb.WriteString("\nharnesses\n")
		for _, h := range in.Selected {
			fmt.Fprintf(&sb, "  %s\n", h)
			if s := h.Sample(harness.SweepKey{}); s != nil && (s.Setup != 0 || s.Hold != 0) {
				fmt.Fprintf(&sb, "    setup %g %s, hold %g %s at slew[0] load[0]\n",
					s.Setup/units.TimeScale(), units.Time, s.Hold/units.TimeScale(), units.Time)
				fmt.Fprintf(&sb, "    measured setup %g %s, hold %g %s\n",
					s.SetupMargin/units.TimeScale(), units.Time, s.HoldMargin/units.TimeScale(), units.Time)
			}
		}
	}
	return sb.String()
}
