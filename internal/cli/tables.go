package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/charlib/internal/store"
)

// TablesOptions holds flags for the tables command.
type TablesOptions struct {
	*RootOptions
	RunID string
	Cell  string // optional - latest run of this cell
}

// TablesResult holds the stored results of one run.
type TablesResult struct {
	Run       store.Run       `json:"run"`
	Pins      []store.Pin     `json:"pins"`
	Tables    []store.Table   `json:"tables"`
	Harnesses []store.Harness `json:"harnesses"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TablesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tables <db>",
		Short: "Print the timing tables of a stored run",
		Long: `Print the pins, timing tables and harnesses of a stored run.

Without --run, the most recent run is shown, optionally restricted to
one cell with --cell.

Examples:
  charlib tables ./results.db
  charlib tables ./results.db --cell AND2
  charlib tables ./results.db --run 0190d7a4-... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: latest run)")
	cmd.Flags().StringVar(&opts.Cell, "cell", "", "show the latest run of this cell")

	return cmd
}

func runTables(opts *TablesOptions, path string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// store.Open creates missing databases; a typo must not.
	if _, err := os.Stat(path); err != nil {
		return commandError(formatter, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return commandError(formatter, "failed to open database", err)
	}
	defer st.Close()

	var run store.Run
	if opts.RunID != "" {
		run, err = st.Run(ctx, opts.RunID)
	} else {
		run, err = st.LatestRun(ctx, strings.ToUpper(opts.Cell))
	}
	if err != nil {
		return commandError(formatter, "run not found", err)
	}
	formatter.VerboseLog("Showing run %s (seq %d)", run.ID, run.Seq)

	result := TablesResult{Run: run}
	if result.Pins, err = st.Pins(ctx, run.ID); err != nil {
		return commandError(formatter, "failed to read pins", err)
	}
	if result.Tables, err = st.Tables(ctx, run.ID); err != nil {
		return commandError(formatter, "failed to read tables", err)
	}
	if result.Harnesses, err = st.Harnesses(ctx, run.ID); err != nil {
		return commandError(formatter, "failed to read harnesses", err)
	}

	if opts.Format == "json" {
		return outputTablesJSON(cmd, result)
	}
	outputTablesText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// outputTablesJSON outputs the run as JSON.
func outputTablesJSON(cmd *cobra.Command, result TablesResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTablesText outputs the run as text.
func outputTablesText(w io.Writer, result TablesResult, verbose bool) {
	run := result.Run
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "Cell: %s (%s, %s)\n", run.Cell, run.Kind, run.Simulator)
	fmt.Fprintf(w, "Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Pins ===")
	for _, p := range result.Pins {
		fmt.Fprintf(w, "  %-8s %-6s %-6s", p.Name, p.Direction, p.Role)
		if p.Direction == "input" {
			fmt.Fprintf(w, " capacitance=%g%s", p.Capacitance, run.CapacitanceUnit)
		}
		if p.Function != "" {
			fmt.Fprintf(w, " function=%s", p.Function)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timing ===")
	if len(result.Tables) == 0 {
		fmt.Fprintln(w, "  (no tables)")
	}
	for _, t := range result.Tables {
		fmt.Fprintf(w, "  %s -> %s %s (%s)\n", t.RelatedPin, t.Pin, t.Kind, t.Template)
		fmt.Fprintf(w, "    index_1 (%s): %s\n", run.TimeUnit, formatFloats(t.Index1))
		fmt.Fprintf(w, "    index_2 (%s): %s\n", run.CapacitanceUnit, formatFloats(t.Index2))
		for i := range t.Index1 {
			row := t.Values[i*len(t.Index2) : (i+1)*len(t.Index2)]
			fmt.Fprintf(w, "    values[%d] (%s): %s\n", i, run.TimeUnit, formatFloats(row))
		}
	}

	if !verbose {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Harnesses ===")
	for _, h := range result.Harnesses {
		mark := " "
		if h.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %s avg=%.4gs\n", mark, h.Description, h.AverageDelay)
		for i, m := range h.Margins {
			fmt.Fprintf(w, "      [%d] setup=%.4gs hold=%.4gs measured setup=%.4gs hold=%.4gs\n",
				i, m.Setup, m.Hold, m.MeasuredSetup, m.MeasuredHold)
		}
	}
}

// formatFloats formats a table axis or row for display.
func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(parts, ", ")
}
