package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification_Wrapped(t *testing.T) {
	cfg := fmt.Errorf("load cell: %w", Configf("slews", "must not be empty"))
	wiring := fmt.Errorf("trial: %w", &WiringError{Cell: "AND2", Port: "Z", Definition: ".subckt AND2 A B Z"})
	result := fmt.Errorf("trial: %w", &ResultError{Trial: "AND2_delay", Measurement: "prop_in_out"})

	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsConfiguration(wiring))
	assert.True(t, IsWiring(wiring))
	assert.False(t, IsWiring(result))
	assert.True(t, IsResult(result))
	assert.False(t, IsResult(cfg))
	assert.False(t, IsResult(nil))
}

func TestConfigurationError_Message(t *testing.T) {
	err := Configf("simulation_timestep", "auto requires slews to be set first")
	assert.Equal(t, "configuration error: simulation_timestep: auto requires slews to be set first", err.Error())

	cause := errors.New("no such file")
	err = &ConfigurationError{Field: "netlist", Message: "cannot read", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "no such file")
}

func TestResultError_Message(t *testing.T) {
	err := &ResultError{Trial: "DFF_delay"}
	assert.Equal(t, "result error: DFF_delay: simulation failed", err.Error())

	err = &ResultError{Trial: "DFF_delay", Measurement: "trans_out"}
	assert.Equal(t, "result error: DFF_delay: measurement trans_out failed", err.Error())
}

func TestWiringError_Message(t *testing.T) {
	err := &WiringError{Cell: "INV", Port: "VPB", Definition: ".subckt INV A Y VDD VSS VPB"}
	assert.Contains(t, err.Error(), `failed to match port "VPB"`)
	assert.Contains(t, err.Error(), "cell INV")
}
