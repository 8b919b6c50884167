package config

import "github.com/roach88/charlib/internal/errs"

// Units are the library units in which sweep values are configured and in
// which results are reported.
type Units struct {
	Time        string `yaml:"time" json:"time"`
	Capacitance string `yaml:"capacitance" json:"capacitance"`
	Voltage     string `yaml:"voltage" json:"voltage"`
}

var (
	timeScales        = map[string]float64{"ps": 1e-12, "ns": 1e-9, "us": 1e-6}
	capacitanceScales = map[string]float64{"fF": 1e-15, "pF": 1e-12, "nF": 1e-9}
	voltageScales     = map[string]float64{"mV": 1e-3, "V": 1}
)

// DefaultUnits returns ns / pF / V.
func DefaultUnits() Units {
	return Units{Time: "ns", Capacitance: "pF", Voltage: "V"}
}

// Validate checks that every unit is known.
func (u Units) Validate() error {
	if _, ok := timeScales[u.Time]; !ok {
		return errs.Configf("settings.units.time", "unknown time unit %q", u.Time)
	}
	if _, ok := capacitanceScales[u.Capacitance]; !ok {
		return errs.Configf("settings.units.capacitance", "unknown capacitance unit %q", u.Capacitance)
	}
	if _, ok := voltageScales[u.Voltage]; !ok {
		return errs.Configf("settings.units.voltage", "unknown voltage unit %q", u.Voltage)
	}
	return nil
}

// TimeScale returns seconds per library time unit.
func (u Units) TimeScale() float64 { return timeScales[u.Time] }

// CapacitanceScale returns farads per library capacitance unit.
func (u Units) CapacitanceScale() float64 { return capacitanceScales[u.Capacitance] }

// VoltageScale returns volts per library voltage unit.
func (u Units) VoltageScale() float64 { return voltageScales[u.Voltage] }
