package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/charlib/internal/characterize"
	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/spice"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Settings string        `json:"settings"`
	Cells    []CellSummary `json:"cells"`
}

// CellSummary describes one validated cell.
type CellSummary struct {
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	Inputs      []string   `json:"inputs"`
	Outputs     []string   `json:"outputs"`
	TestVectors [][]string `json:"test_vectors"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a library configuration without simulating",
		Long: `Validate a YAML or CUE library configuration.

Loads the settings and every cell, resolves "auto" values, parses the
output functions and derives the test vectors, without running the
simulator. Faster than characterize for development feedback.

Examples:
  charlib validate ./library.yaml
  charlib validate ./library.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	lib, err := config.Load(path)
	if err != nil {
		return outputValidateError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d cell(s) from %s", len(lib.Cells), path)

	// The simulator is never invoked; it only fixes the capabilities the
	// managers are built against.
	sim := spice.NewNgspice(lib.Settings.NgspicePath, lib.Settings.WorkDir,
		lib.Settings.Simulator == config.SimulatorNgspiceShared)
	ch := characterize.New(lib.Settings, sim,
		characterize.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := ch.AddLibrary(lib); err != nil {
		return outputValidateError(formatter, err)
	}

	result := ValidationResult{Valid: true, Settings: lib.Settings.String()}
	for _, m := range ch.Managers() {
		formatter.VerboseLog("Validating cell: %s", m.Name())
		vectors, err := m.TestVectors()
		if err != nil {
			return outputValidateError(formatter, fmt.Errorf("cell %s: %w", m.Name(), err))
		}
		cfg := m.Config()
		result.Cells = append(result.Cells, CellSummary{
			Name:        m.Name(),
			Kind:        string(cfg.Kind),
			Inputs:      cfg.Inputs,
			Outputs:     cfg.Outputs,
			TestVectors: vectors,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Configuration valid: %d cell(s)\n", len(result.Cells))
	fmt.Fprint(w, ch.Describe())
	return nil
}

// outputValidateError outputs a load or validation error. Configuration
// problems are command-level errors (exit code 2).
func outputValidateError(formatter *OutputFormatter, err error) error {
	code := errorCode(err)
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}
