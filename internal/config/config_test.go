package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/charlib/internal/errs"
)

const and2Netlist = `* AND2
.subckt AND2 A B Y VDD VSS
X0 n1 A VDD VDD pmos_lvt w=0.42 l=0.15
.ends
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func and2Spec() CellSpec {
	return CellSpec{
		Name:      "and2",
		Inputs:    []string{"a", "b"},
		Outputs:   []string{"y"},
		Functions: []string{"y=a&b"},
		Netlist:   "and2.spice",
		Slews:     []float64{0.1, 0.2},
		Loads:     []float64{0.001, 0.002},
	}
}

func TestNewCell_ResolvesAutoAndUppercases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	c, err := NewCell(and2Spec(), dir)
	require.NoError(t, err)

	assert.Equal(t, "AND2", c.Name)
	assert.Equal(t, KindCombinational, c.Kind)
	assert.Equal(t, []string{"A", "B"}, c.Inputs)
	assert.Equal(t, []string{"Y"}, c.Outputs)
	assert.Equal(t, []string{"Y=A&B"}, c.Functions)
	assert.Equal(t, filepath.Join(dir, "and2.spice"), c.Netlist)
	assert.InDelta(t, 0.01, c.Timestep, 1e-12)
	assert.Nil(t, c.Sequential)
}

func TestNewCell_ExplicitTimestep(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	spec := and2Spec()
	spec.SimulationTimestep = Number(0.005)
	c, err := NewCell(spec, dir)
	require.NoError(t, err)
	assert.Equal(t, 0.005, c.Timestep)
}

func TestNewCell_RejectsBadSweeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	tests := []struct {
		name   string
		mutate func(*CellSpec)
		field  string
	}{
		{"empty slews", func(s *CellSpec) { s.Slews = nil }, "slews"},
		{"empty loads", func(s *CellSpec) { s.Loads = []float64{} }, "loads"},
		{"zero slew", func(s *CellSpec) { s.Slews = []float64{0.1, 0} }, "slews"},
		{"negative load", func(s *CellSpec) { s.Loads = []float64{-1} }, "loads"},
		{"zero timestep", func(s *CellSpec) { s.SimulationTimestep = Number(0) }, "simulation_timestep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := and2Spec()
			tt.mutate(&spec)
			_, err := NewCell(spec, dir)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNewCell_RejectsBadPinsAndFunctions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	tests := []struct {
		name   string
		mutate func(*CellSpec)
		want   string
	}{
		{"function on input", func(s *CellSpec) { s.Functions = []string{"A=B"} }, "not an output pin"},
		{"function without assignment", func(s *CellSpec) { s.Functions = []string{"A&B"} }, "expected an expression"},
		{"duplicate pin", func(s *CellSpec) { s.Outputs = []string{"a"} }, "duplicate pin"},
		{"missing netlist", func(s *CellSpec) { s.Netlist = "nope.spice" }, "is not a file"},
		{"missing model", func(s *CellSpec) { s.Models = []string{"nope.lib tt"} }, "not found"},
		{"short vector", func(s *CellSpec) { s.TestVectors = [][]string{{"01", "1"}} }, "expected 3 entries"},
		{"bad plot", func(s *CellSpec) { s.Plots = Plots{"waveform"} }, "invalid plot"},
		{"clock on combinational", func(s *CellSpec) { s.Clock = "posedge CLK" }, "only valid for sequential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := and2Spec()
			tt.mutate(&spec)
			_, err := NewCell(spec, dir)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewCell_Models(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)
	lib := writeFile(t, dir, "models.lib", "* models\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "cells"), 0o755))

	spec := and2Spec()
	spec.Models = []string{"models.lib tt", "cells", "models.lib"}
	c, err := NewCell(spec, dir)
	require.NoError(t, err)
	assert.Equal(t, []Model{
		{Path: lib, Section: "tt"},
		{Path: filepath.Join(dir, "cells"), Dir: true},
		{Path: lib},
	}, c.Models)

	spec.Models = []string{"cells tt"}
	_, err = NewCell(spec, dir)
	assert.True(t, errs.IsConfiguration(err))
}

func dffSpec() CellSpec {
	return CellSpec{
		Name:      "DFF",
		Kind:      KindSequential,
		Inputs:    []string{"D"},
		Outputs:   []string{"Q"},
		Functions: []string{"Q<=D"},
		Netlist:   "dff.spice",
		Slews:     []float64{0.1, 0.4},
		Loads:     []float64{0.01},
		Clock:     "posedge CLK",
		Flops:     []string{"IQ"},
	}
}

func TestNewCell_SequentialAutoBounds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dff.spice", ".subckt DFF CLK D Q VDD VSS\n.ends\n")

	c, err := NewCell(dffSpec(), dir)
	require.NoError(t, err)
	require.NotNil(t, c.Sequential)

	seq := c.Sequential
	assert.Equal(t, Trigger{Edge: Posedge, Pin: "CLK"}, seq.Clock)
	assert.Nil(t, seq.Set)
	assert.Nil(t, seq.Reset)
	assert.Equal(t, []string{"Q=D"}, c.Functions)
	assert.Equal(t, 0.1, seq.ClockSlew)

	assert.InDelta(t, 4.0, seq.Setup.Highest, 1e-12)
	assert.InDelta(t, -4.0, seq.Setup.Lowest, 1e-12)
	assert.InDelta(t, 0.01, seq.Setup.Timestep, 1e-12)
	assert.InDelta(t, 4.0, seq.Hold.Highest, 1e-12)
	assert.InDelta(t, -1.0, seq.Hold.Lowest, 1e-12)
	assert.InDelta(t, 0.01, seq.Hold.Timestep, 1e-12)

	// clock, flop, D, Q
	assert.Equal(t, 4, c.VectorLength())
}

func TestNewCell_SequentialErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dff.spice", ".subckt DFF CLK D Q VDD VSS\n.ends\n")

	tests := []struct {
		name   string
		mutate func(*CellSpec)
		want   string
	}{
		{"missing clock", func(s *CellSpec) { s.Clock = "" }, "require a clock"},
		{"clock without edge", func(s *CellSpec) { s.Clock = "CLK" }, "include both the trigger type"},
		{"bad edge", func(s *CellSpec) { s.Reset = "rising RN" }, "must be one of"},
		{"inverted bounds", func(s *CellSpec) {
			s.Simulation = &SearchSpec{Setup: BoundsSpec{Highest: Number(-1), Lowest: Number(1)}}
		}, "must be above lowest"},
		{"zero search step", func(s *CellSpec) {
			s.Simulation = &SearchSpec{Hold: BoundsSpec{Timestep: Number(0)}}
		}, "simulation.hold.timestep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := dffSpec()
			tt.mutate(&spec)
			_, err := NewCell(spec, dir)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCell_ValidateCatchesClearedSweep(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	c, err := NewCell(and2Spec(), dir)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	c.Slews = nil
	assert.True(t, errs.IsConfiguration(c.Validate()))
}

func TestQuantity_Unmarshal(t *testing.T) {
	var v struct {
		A Quantity `yaml:"a"`
		B Quantity `yaml:"b"`
		C Quantity `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: auto\nb: 0.25\n"), &v))
	assert.Equal(t, AutoQuantity(), v.A)
	assert.Equal(t, Number(0.25), v.B)
	assert.False(t, v.C.Set)

	assert.Error(t, yaml.Unmarshal([]byte("a: fast\n"), &v))

	var q Quantity
	require.NoError(t, q.UnmarshalJSON([]byte(`"auto"`)))
	assert.True(t, q.Auto)
	require.NoError(t, q.UnmarshalJSON([]byte(`1.5`)))
	assert.Equal(t, Number(1.5), q)
}

func TestPlots_Unmarshal(t *testing.T) {
	var p Plots
	require.NoError(t, yaml.Unmarshal([]byte(`all`), &p))
	assert.Equal(t, Plots{PlotIO, PlotDelay, PlotPower}, p)
	assert.True(t, p.Has(PlotDelay))

	require.NoError(t, yaml.Unmarshal([]byte(`none`), &p))
	assert.Empty(t, p)

	require.NoError(t, p.UnmarshalJSON([]byte(`["io"]`)))
	assert.Equal(t, Plots{PlotIO}, p)
	assert.False(t, p.Has(PlotPower))

	assert.Error(t, p.UnmarshalJSON([]byte(`"some"`)))
}

const libraryYAML = `settings:
  vdd: {name: VPWR, voltage: 1.8}
  vss: {name: VGND, voltage: 0}
  units: {time: ns, capacitance: pF, voltage: V}
  simulator: ngspice-shared
cells:
  - name: AND2
    inputs: [A, B]
    outputs: [Y]
    functions: ["Y=A&B"]
    netlist: and2.spice
    slews: [0.1]
    loads: [0.001, 0.002]
    simulation_timestep: auto
    plots: none
`

const libraryCUE = `settings: {
	vdd: {name: "VPWR", voltage: 1.8}
	vss: {name: "VGND", voltage: 0}
	units: {time: "ns", capacitance: "pF", voltage: "V"}
	simulator: "ngspice-shared"
}
cells: [{
	name: "AND2"
	inputs: ["A", "B"]
	outputs: ["Y"]
	functions: ["Y=A&B"]
	netlist: "and2.spice"
	slews: [0.1]
	loads: [0.001, 0.002]
	simulation_timestep: "auto"
	plots: "none"
}]
`

func TestLoad_YAMLAndCUEAgree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)
	yamlPath := writeFile(t, dir, "lib.yaml", libraryYAML)
	cuePath := writeFile(t, dir, "lib.cue", libraryCUE)

	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)
	fromCUE, err := Load(cuePath)
	require.NoError(t, err)

	assert.Equal(t, yamlPath, fromYAML.Path)
	fromYAML.Path, fromCUE.Path = "", ""
	assert.Equal(t, fromYAML, fromCUE)

	lib := fromYAML
	assert.Equal(t, "VPWR", lib.Settings.VDD.Name)
	assert.Equal(t, SimulatorNgspiceShared, lib.Settings.Simulator)
	assert.Equal(t, 25.0, lib.Settings.Temperature, "defaults survive partial settings")
	assert.True(t, lib.Settings.Multithreaded)

	c, ok := lib.Cell("and2")
	require.True(t, ok)
	assert.Equal(t, []float64{0.001, 0.002}, c.Loads)
	assert.InDelta(t, 0.01, c.Timestep, 1e-12)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	yamlPath := writeFile(t, dir, "lib.yaml", libraryYAML+"    slew_rates: [1]\n")
	_, err := Load(yamlPath)
	assert.True(t, errs.IsConfiguration(err))

	cuePath := writeFile(t, dir, "lib.cue", libraryCUE+"extra: 1\n")
	_, err = Load(cuePath)
	assert.True(t, errs.IsConfiguration(err))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "and2.spice", and2Netlist)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "lib.toml", ""))
	assert.True(t, errs.IsConfiguration(err))

	_, err = Load(writeFile(t, dir, "empty.yaml", "settings: {}\ncells: []\n"))
	assert.True(t, errs.IsConfiguration(err))

	dup := libraryYAML + `  - name: and2
    inputs: [A]
    outputs: [Y]
    netlist: and2.spice
    slews: [0.1]
    loads: [0.1]
`
	_, err = Load(writeFile(t, dir, "dup.yaml", dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate cell")

	bad := `settings:
  vdd: {name: VDD, voltage: 0}
cells: []
`
	_, err = Load(writeFile(t, dir, "rails.yaml", bad))
	assert.True(t, errs.IsConfiguration(err))
}

func TestSettings_Thresholds(t *testing.T) {
	s := DefaultSettings()
	s.VDD.Voltage = 1000
	s.Units.Voltage = "mV"
	require.NoError(t, s.Validate())

	assert.InDelta(t, 1.0, s.VDDVolts(), 1e-12)
	assert.InDelta(t, 0.2, s.LowThreshold(), 1e-12)
	assert.InDelta(t, 0.8, s.HighThreshold(), 1e-12)
	assert.InDelta(t, 0.5, s.RiseThreshold(), 1e-12)
	assert.InDelta(t, 0.5, s.FallThreshold(), 1e-12)

	s.Thresholds.Low = 0.9
	assert.True(t, errs.IsConfiguration(s.Validate()))
}
