package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format string, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidLibrary(t *testing.T) {
	path, _ := writeLibrary(t, and2Config)

	output, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Configuration valid: 1 cell(s)")
	assert.Contains(t, output, "settings: ")
	assert.Contains(t, output, "AND2")
}

func TestValidateValidLibraryJSON(t *testing.T) {
	path, _ := writeLibrary(t, and2Config)

	output, err := executeValidate(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Cells, 1)

	cell := resp.Data.Cells[0]
	assert.Equal(t, "AND2", cell.Name)
	assert.Equal(t, "combinational", cell.Kind)
	assert.Equal(t, []string{"A", "B"}, cell.Inputs)
	assert.Equal(t, []string{"Y"}, cell.Outputs)
	// Each input toggles Y with the other input high, in both directions.
	assert.Len(t, cell.TestVectors, 4)
}

func TestValidateEmptySlews(t *testing.T) {
	path, _ := writeLibrary(t, strings.Replace(and2Config, "slews: [0.1]", "slews: []", 1))

	output, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E101]")
	assert.Contains(t, output, "slews")
}

func TestValidateEmptySlewsJSON(t *testing.T) {
	path, _ := writeLibrary(t, strings.Replace(and2Config, "slews: [0.1]", "slews: []", 1))

	output, err := executeValidate(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfiguration, resp.Error.Code)
}

func TestValidateUnknownField(t *testing.T) {
	path, _ := writeLibrary(t, strings.Replace(and2Config, "plots: [delay]", "colour: blue", 1))

	output, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E101]")
}

func TestValidateBadFunction(t *testing.T) {
	path, _ := writeLibrary(t, strings.Replace(and2Config, `"Y=A&B"`, `"Y=A&&"`, 1))

	_, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateMissingFile(t *testing.T) {
	output, err := executeValidate(t, "text", "/nonexistent/library.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E005]")
}
