package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/charlib/internal/characterize"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/report"
	"github.com/roach88/charlib/internal/spice"
	"github.com/roach88/charlib/internal/store"
)

// CharacterizeOptions holds flags for the characterize command.
type CharacterizeOptions struct {
	*RootOptions
	Database string

	// Simulator allows overriding the ngspice backend (for testing).
	// If nil, the backend named in the settings is used.
	Simulator spice.Simulator

	// IDGenerator allows overriding run ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator store.IDGenerator
}

// CharacterizeResult is the JSON payload of the characterize command.
type CharacterizeResult struct {
	Cells  []CellResult `json:"cells"`
	Failed []string     `json:"failed,omitempty"`
}

// CellResult summarizes one characterized cell.
type CellResult struct {
	Name      string `json:"name"`
	RunID     string `json:"run_id,omitempty"`
	Harnesses int    `json:"harnesses"`
	Selected  int    `json:"selected"`
}

// NewCharacterizeCommand creates the characterize command.
func NewCharacterizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CharacterizeOptions{RootOptions: rootOpts}
	return newCharacterizeCommand(opts)
}

func newCharacterizeCommand(opts *CharacterizeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "characterize <config> [cells...]",
		Short: "Characterize the cells of a library",
		Long: `Characterize the cells of a library configuration.

Runs every delay, capacitance and setup/hold trial for the named cells,
or for every cell when none are named. A failing cell does not stop the
others. With a results database (--db or settings.database) each
characterized cell is stored as a run and marked exported.

Examples:
  charlib characterize ./library.yaml
  charlib characterize ./library.yaml AND2 DFF --db ./results.db --verbose`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCharacterize(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite results database (overrides settings.database)")

	return cmd
}

func runCharacterize(opts *CharacterizeOptions, path string, names []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	lib, err := config.Load(path)
	if err != nil {
		return commandError(formatter, "invalid configuration", err)
	}
	settings := lib.Settings
	if opts.Database != "" {
		settings.Database = opts.Database
	}

	sim := opts.Simulator
	if sim == nil {
		sim = spice.NewNgspice(settings.NgspicePath, settings.WorkDir,
			settings.Simulator == config.SimulatorNgspiceShared, spice.WithLogger(logger))
	}

	ch := characterize.New(settings, sim,
		characterize.WithLogger(logger),
		characterize.WithReporter(report.New(settings.WorkDir, logger)))
	if err := ch.AddLibrary(lib); err != nil {
		return commandError(formatter, "invalid configuration", err)
	}
	if err := ch.InitWorkDir(); err != nil {
		return commandError(formatter, "cannot prepare work directory", err)
	}

	// Open the database before simulating so a bad path fails fast.
	var st *store.Store
	if settings.Database != "" {
		var storeOpts []store.Option
		if opts.IDGenerator != nil {
			storeOpts = append(storeOpts, store.WithIDGenerator(opts.IDGenerator))
		}
		st, err = store.Open(settings.Database, storeOpts...)
		if err != nil {
			return commandError(formatter, "failed to open database", err)
		}
		defer st.Close()
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	done, charErr := ch.Characterize(ctx, names...)
	if charErr != nil && len(done) == 0 && errs.IsConfiguration(charErr) {
		return commandError(formatter, "invalid configuration", charErr)
	}

	result := CharacterizeResult{Cells: []CellResult{}}
	for _, m := range done {
		cr := CellResult{Name: m.Name(), Harnesses: len(m.Harnesses()), Selected: len(m.Selected())}
		if st != nil {
			run, err := st.SaveRun(ctx, store.RunInput{
				Cell:      m.Cell(),
				Kind:      m.Config().Kind,
				Settings:  settings,
				Simulator: sim.Capabilities().Name,
				Harnesses: m.Harnesses(),
				Selected:  m.Selected(),
			})
			if err != nil {
				_ = formatter.Error(ErrCodeStore, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to save run", err)
			}
			m.SetExported()
			cr.RunID = run.ID
			logger.Info("run stored", "cell", m.Name(), "run", run.ID, "seq", run.Seq)
		}
		result.Cells = append(result.Cells, cr)
	}
	for _, m := range ch.Managers() {
		if containsManager(done, m) || !selected(names, m) {
			continue
		}
		result.Failed = append(result.Failed, m.Name())
	}

	if charErr != nil {
		_ = formatter.Error(errorCode(charErr), charErr.Error(), result)
		if errors.Is(charErr, context.Canceled) {
			return WrapExitError(ExitFailure, "characterization interrupted", charErr)
		}
		return WrapExitError(ExitFailure, "characterization failed", charErr)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	outputCharacterizeText(formatter, result)
	return nil
}

func outputCharacterizeText(formatter *OutputFormatter, result CharacterizeResult) {
	w := formatter.Writer
	for _, c := range result.Cells {
		fmt.Fprintf(w, "✓ %s: %d harness(es), %d selected", c.Name, c.Harnesses, c.Selected)
		if c.RunID != "" {
			fmt.Fprintf(w, ", run %s", c.RunID)
		}
		fmt.Fprintln(w)
	}
}

// commandError reports err and returns it as a command-level error.
func commandError(formatter *OutputFormatter, message string, err error) error {
	_ = formatter.Error(errorCode(err), err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping characterization", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

func containsManager(list []characterize.Manager, m characterize.Manager) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}

// selected reports whether m was requested. An empty selection requests
// every cell.
func selected(names []string, m characterize.Manager) bool {
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if strings.EqualFold(name, m.Name()) {
			return true
		}
	}
	return false
}
