// Package errs defines the error taxonomy shared by the characterization
// engine and its collaborators.
//
// Three kinds of failure are distinguished:
//   - ConfigurationError: bad sweep, timestep, model, netlist or test vector.
//     Always surfaced before any simulation runs.
//   - WiringError: a port of the cell's physical definition cannot be matched
//     to a role in the stimulus harness. Fatal for the cell.
//   - ResultError: a single simulation trial failed to converge or a
//     requested measurement could not be taken.
//
// All helpers use errors.As so wrapped errors are classified correctly.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid or inconsistent configuration value.
type ConfigurationError struct {
	// Field names the offending option (e.g. "slews", "simulation.setup.timestep").
	Field string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf creates a ConfigurationError for field with a formatted message.
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WiringError reports that a port in the cell definition could not be
// reconciled with the logical port roles of a harness.
type WiringError struct {
	// Cell is the name of the cell under test.
	Cell string

	// Port is the first definition port left unmatched.
	Port string

	// Definition is the raw subcircuit definition line.
	Definition string
}

// Error implements the error interface.
func (e *WiringError) Error() string {
	return fmt.Sprintf("wiring error: cell %s: failed to match port %q of definition %q", e.Cell, e.Port, e.Definition)
}

// ResultError reports a failed simulation trial: non-convergence, a
// measurement that could not be taken, or a missing result.
type ResultError struct {
	// Trial identifies the simulation (deck title).
	Trial string

	// Measurement is the measurement name, empty when the whole run failed.
	Measurement string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ResultError) Error() string {
	var msg string
	switch {
	case e.Measurement != "":
		msg = fmt.Sprintf("result error: %s: measurement %s failed", e.Trial, e.Measurement)
	default:
		msg = fmt.Sprintf("result error: %s: simulation failed", e.Trial)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ResultError) Unwrap() error { return e.Err }

// IsConfiguration returns true if err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsWiring returns true if err is or wraps a WiringError.
func IsWiring(err error) bool {
	var we *WiringError
	return errors.As(err, &we)
}

// IsResult returns true if err is or wraps a ResultError.
func IsResult(err error) bool {
	var re *ResultError
	return errors.As(err, &re)
}
