// Package config provides the validated configuration for a characterization
// run: library-wide settings (rails, units, thresholds, simulator) and the
// per-cell test configuration (pins, sweeps, timesteps, search bounds).
//
// Configuration is loaded from YAML or CUE files and validated eagerly.
// "auto" values are resolved at load time, never lazily at first use.
package config

import (
	"fmt"

	"github.com/roach88/charlib/internal/errs"
)

// Simulator backend identifiers.
const (
	// SimulatorNgspice runs one ngspice batch process per trial. Trials may
	// run concurrently.
	SimulatorNgspice = "ngspice"

	// SimulatorNgspiceShared models the shared-library ngspice binding, a
	// process-wide singleton that cannot serve concurrent requests.
	SimulatorNgspiceShared = "ngspice-shared"
)

// Rail is a named supply rail.
// Voltages are expressed in library voltage units.
type Rail struct {
	Name    string  `yaml:"name" json:"name"`
	Voltage float64 `yaml:"voltage" json:"voltage"`
}

// Thresholds are logic thresholds expressed as fractions of the rail swing.
type Thresholds struct {
	// Low and High bound the transition-time measurement (e.g. 0.2 / 0.8).
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`

	// LowToHigh and HighToLow are the switching points used for
	// propagation delay on rising and falling edges.
	LowToHigh float64 `yaml:"low_to_high" json:"low_to_high"`
	HighToLow float64 `yaml:"high_to_low" json:"high_to_low"`
}

// Settings holds library-wide characterization settings.
type Settings struct {
	VDD         Rail       `yaml:"vdd" json:"vdd"`
	VSS         Rail       `yaml:"vss" json:"vss"`
	Temperature float64    `yaml:"temperature" json:"temperature"`
	Units       Units      `yaml:"units" json:"units"`
	Thresholds  Thresholds `yaml:"thresholds" json:"thresholds"`

	// Simulator selects the backend: "ngspice" or "ngspice-shared".
	Simulator string `yaml:"simulator" json:"simulator"`

	// NgspicePath is the ngspice executable.
	NgspicePath string `yaml:"ngspice_path" json:"ngspice_path"`

	// Multithreaded enables fork/join trial dispatch when the simulator
	// supports concurrent instances.
	Multithreaded bool `yaml:"multithreaded" json:"multithreaded"`

	// WorkDir receives simulation decks, logs and reports.
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Database is the SQLite results database. Empty disables persistence.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		VDD:         Rail{Name: "VDD", Voltage: 1.8},
		VSS:         Rail{Name: "VSS", Voltage: 0},
		Temperature: 25,
		Units:       DefaultUnits(),
		Thresholds: Thresholds{
			Low:       0.2,
			High:      0.8,
			LowToHigh: 0.5,
			HighToLow: 0.5,
		},
		Simulator:     SimulatorNgspice,
		NgspicePath:   "ngspice",
		Multithreaded: true,
		WorkDir:       "work",
	}
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	if s.VDD.Name == "" || s.VSS.Name == "" {
		return errs.Configf("settings.vdd/vss", "rail names are required")
	}
	if s.VDD.Voltage <= s.VSS.Voltage {
		return errs.Configf("settings.vdd", "vdd (%g) must be above vss (%g)", s.VDD.Voltage, s.VSS.Voltage)
	}
	if err := s.Units.Validate(); err != nil {
		return err
	}

	t := s.Thresholds
	for name, v := range map[string]float64{
		"low": t.Low, "high": t.High, "low_to_high": t.LowToHigh, "high_to_low": t.HighToLow,
	} {
		if v <= 0 || v >= 1 {
			return errs.Configf("settings.thresholds."+name, "must be a fraction in (0, 1), got %g", v)
		}
	}
	if t.Low >= t.High {
		return errs.Configf("settings.thresholds", "low (%g) must be below high (%g)", t.Low, t.High)
	}

	switch s.Simulator {
	case SimulatorNgspice, SimulatorNgspiceShared:
	default:
		return errs.Configf("settings.simulator", "unknown simulator %q", s.Simulator)
	}
	if s.WorkDir == "" {
		return errs.Configf("settings.work_dir", "is required")
	}
	return nil
}

// VDDVolts returns the positive rail in volts.
func (s *Settings) VDDVolts() float64 { return s.VDD.Voltage * s.Units.VoltageScale() }

// VSSVolts returns the negative rail in volts.
func (s *Settings) VSSVolts() float64 { return s.VSS.Voltage * s.Units.VoltageScale() }

// level converts a threshold fraction into a voltage between the rails.
func (s *Settings) level(fraction float64) float64 {
	return s.VSSVolts() + fraction*(s.VDDVolts()-s.VSSVolts())
}

// LowThreshold returns the lower transition-time threshold in volts.
func (s *Settings) LowThreshold() float64 { return s.level(s.Thresholds.Low) }

// HighThreshold returns the upper transition-time threshold in volts.
func (s *Settings) HighThreshold() float64 { return s.level(s.Thresholds.High) }

// RiseThreshold returns the switching threshold for rising edges in volts.
func (s *Settings) RiseThreshold() float64 { return s.level(s.Thresholds.LowToHigh) }

// FallThreshold returns the switching threshold for falling edges in volts.
func (s *Settings) FallThreshold() float64 { return s.level(s.Thresholds.HighToLow) }

// String summarizes the settings for logs and the validate command.
func (s Settings) String() string {
	return fmt.Sprintf("vdd=%s:%g%s vss=%s:%g%s temp=%gC units=%s/%s/%s simulator=%s multithreaded=%t",
		s.VDD.Name, s.VDD.Voltage, s.Units.Voltage, s.VSS.Name, s.VSS.Voltage, s.Units.Voltage, s.Temperature,
		s.Units.Time, s.Units.Capacitance, s.Units.Voltage, s.Simulator, s.Multithreaded)
}
