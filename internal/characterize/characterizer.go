package characterize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/spice"
)

// Characterizer holds the library settings and one manager per cell. All
// managers share the simulator and the scheduler chosen for the run.
type Characterizer struct {
	settings config.Settings
	sim      spice.Simulator
	opts     options
	managers []Manager
}

// New returns an empty Characterizer.
func New(settings config.Settings, sim spice.Simulator, opts ...Option) *Characterizer {
	return &Characterizer{
		settings: settings,
		sim:      sim,
		opts:     resolveOptions(settings, sim, opts),
	}
}

// Settings returns the library settings.
func (c *Characterizer) Settings() config.Settings { return c.settings }

// Scheduler returns the dispatch policy of the run.
func (c *Characterizer) Scheduler() Scheduler { return c.opts.scheduler }

// Add creates the manager matching the cell's kind.
func (c *Characterizer) Add(cfg *config.Cell) (Manager, error) {
	if _, ok := c.Manager(cfg.Name); ok {
		return nil, errs.Configf("cells", "duplicate cell %s", cfg.Name)
	}
	var m Manager
	var err error
	switch cfg.Kind {
	case config.KindSequential:
		m, err = newSequential(cfg, c.settings, c.sim, c.opts)
	default:
		m, err = newCombinational(cfg, c.settings, c.sim, c.opts)
	}
	if err != nil {
		return nil, err
	}
	c.managers = append(c.managers, m)
	return m, nil
}

// AddLibrary adds every cell of lib.
func (c *Characterizer) AddLibrary(lib *config.Library) error {
	for _, cfg := range lib.Cells {
		if _, err := c.Add(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Manager returns the manager of the named cell.
func (c *Characterizer) Manager(name string) (Manager, bool) {
	for _, m := range c.managers {
		if strings.EqualFold(m.Name(), name) {
			return m, true
		}
	}
	return nil, false
}

// Managers returns every manager in the order cells were added.
func (c *Characterizer) Managers() []Manager {
	return append([]Manager(nil), c.managers...)
}

// InitWorkDir creates the work directory. Existing files are kept.
func (c *Characterizer) InitWorkDir() error {
	if err := os.MkdirAll(c.settings.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	return nil
}

// Characterize characterizes the named cells, or every cell when none are
// named. A failing cell does not stop the others; the failures are joined
// into the returned error and the managers that succeeded are returned.
func (c *Characterizer) Characterize(ctx context.Context, names ...string) ([]Manager, error) {
	targets := c.managers
	if len(names) > 0 {
		targets = nil
		for _, name := range names {
			m, ok := c.Manager(name)
			if !ok {
				return nil, errs.Configf("cells", "unknown cell %s", name)
			}
			targets = append(targets, m)
		}
	}

	c.opts.logger.Info("characterizing library", "cells", len(targets), "simulator", c.sim.Capabilities().Name,
		"scheduler", c.opts.scheduler.Name())
	var done []Manager
	var failures []error
	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := m.Characterize(ctx); err != nil {
			c.opts.logger.Error("cell characterization failed", "cell", m.Name(), "error", err)
			failures = append(failures, fmt.Errorf("cell %s: %w", m.Name(), err))
			continue
		}
		done = append(done, m)
	}
	return done, errors.Join(failures...)
}

// Describe summarizes the settings and every cell.
func (c *Characterizer) Describe() string {
	var sb strings.Builder
	sb.WriteString("settings: " + c.settings.String() + "\n")
	sb.WriteString("cells:\n")
	for _, m := range c.managers {
		for _, line := range strings.Split(m.Describe(), "\n") {
			sb.WriteString("  " + line + "\n")
		}
	}
	return sb.String()
}
