package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/charlib/internal/spice"
	"github.com/roach88/charlib/internal/store"
)

const and2Config = `
settings:
  work_dir: %s
cells:
  - name: and2
    inputs: [a, b]
    outputs: [y]
    functions: ["Y=A&B"]
    netlist: cells.sp
    slews: [0.1]
    loads: [0.01, 0.05]
    plots: [delay]
`

// writeLibrary writes a library configuration and the test netlist into a
// temporary directory and returns the config path and the directory.
func writeLibrary(t *testing.T, configTemplate string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	netlist, err := os.ReadFile(filepath.Join("..", "characterize", "testdata", "cells.sp"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cells.sp"), netlist, 0o644))

	path := filepath.Join(dir, "library.yaml")
	content := fmt.Sprintf(configTemplate, filepath.Join(dir, "work"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, dir
}

// executeCharacterize runs the characterize command against sim.
func executeCharacterize(t *testing.T, format string, sim spice.Simulator, ids store.IDGenerator, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts := &CharacterizeOptions{
		RootOptions: &RootOptions{Format: format},
		Simulator:   sim,
		IDGenerator: ids,
	}
	cmd := newCharacterizeCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
