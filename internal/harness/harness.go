package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/charlib/internal/config"
	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/logic"
)

// Layout is the pin ordering of a test vector.
type Layout struct {
	Inputs  []string
	Outputs []string

	// Sequential cells only.
	Clock *config.Trigger
	Set   *config.Trigger
	Reset *config.Trigger
	Flops []string
}

// Len returns the number of entries a vector must have.
func (l Layout) Len() int {
	n := len(l.Inputs) + len(l.Outputs) + len(l.Flops)
	for _, t := range []*config.Trigger{l.Clock, l.Set, l.Reset} {
		if t != nil {
			n++
		}
	}
	return n
}

// Control is the clock, set or reset pin of a sequential harness.
type Control struct {
	config.Trigger

	// State is the stable level of set and reset pins, or the four-phase
	// pattern of the clock.
	State string
}

// Harness is one stimulus scenario. It is immutable apart from its
// results grid.
type Harness struct {
	Input  Transition
	Output Transition

	// StableInputs are the non-target inputs with their levels.
	StableInputs []PinState

	// FloatingOutputs are the non-target outputs. They are loaded but
	// never measured.
	FloatingOutputs []PinState

	// Sequential cells only.
	Clock *Control
	Set   *Control
	Reset *Control
	Flops []PinState

	// Vector is the test vector the harness was built from.
	Vector []string

	slews   int
	loads   int
	results []*Sample
}

// New builds a harness from vector. slews and loads size the results grid.
// A malformed vector is a configuration error.
func New(vector []string, layout Layout, slews, loads int) (*Harness, error) {
	if len(vector) != layout.Len() {
		return nil, errs.Configf("test_vectors", "vector %v has %d entries, expected %d", vector, len(vector), layout.Len())
	}
	if slews <= 0 || loads <= 0 {
		return nil, errs.Configf("slews/loads", "sweep must not be empty")
	}

	h := &Harness{
		Vector:  append([]string(nil), vector...),
		slews:   slews,
		loads:   loads,
		results: make([]*Sample, slews*loads),
	}

	i := 0
	next := func() string {
		v := vector[i]
		i++
		return v
	}

	if layout.Clock != nil {
		pattern := next()
		if len(pattern) != 4 || strings.Trim(pattern, "01") != "" {
			return nil, errs.Configf("test_vectors", "invalid clock pattern %q in vector %v", pattern, vector)
		}
		h.Clock = &Control{Trigger: *layout.Clock, State: pattern}
	}
	for _, c := range []struct {
		trigger *config.Trigger
		dst     **Control
	}{{layout.Set, &h.Set}, {layout.Reset, &h.Reset}} {
		if c.trigger == nil {
			continue
		}
		state := next()
		if !stable(state) {
			return nil, errs.Configf("test_vectors", "invalid level %q for %s in vector %v", state, c.trigger.Pin, vector)
		}
		*c.dst = &Control{Trigger: *c.trigger, State: state}
	}
	for _, flop := range layout.Flops {
		state := next()
		if !stable(state) {
			return nil, errs.Configf("test_vectors", "invalid level %q for register %s in vector %v", state, flop, vector)
		}
		h.Flops = append(h.Flops, PinState{Pin: flop, State: state})
	}

	var err error
	var found bool
	if h.Input, h.StableInputs, found, err = split(layout.Inputs, vector[i:i+len(layout.Inputs)]); err != nil {
		return nil, err
	} else if !found {
		return nil, errs.Configf("test_vectors", "vector %v has no switching input", vector)
	}
	i += len(layout.Inputs)
	if h.Output, h.FloatingOutputs, found, err = split(layout.Outputs, vector[i:]); err != nil {
		return nil, err
	} else if !found {
		return nil, errs.Configf("test_vectors", "vector %v has no switching output", vector)
	}
	return h, nil
}

// split finds the single transition among pins and returns the others as
// stable states.
func split(pins, values []string) (target Transition, others []PinState, found bool, err error) {
	for k, pin := range pins {
		v := values[k]
		if dir, ok := ParseDirection(v); ok {
			if found {
				return target, nil, false, errs.Configf("test_vectors", "both %s and %s switch in vector %v", target.Pin, pin, values)
			}
			target, found = Transition{Pin: pin, Direction: dir}, true
			continue
		}
		if !stable(v) && !strings.EqualFold(v, "x") {
			return target, nil, false, errs.Configf("test_vectors", "invalid value %q for pin %s", v, pin)
		}
		others = append(others, PinState{Pin: pin, State: v})
	}
	return target, others, found, nil
}

func stable(v string) bool { return v == logic.Low || v == logic.High }

// Direction returns the switching direction of the target output.
func (h *Harness) Direction() Direction { return h.Output.Direction }

// Arc returns "IN->OUT".
func (h *Harness) Arc() string { return h.Input.Pin + "->" + h.Output.Pin }

// Matches reports whether the harness targets in->out switching dir.
func (h *Harness) Matches(in, out string, dir Direction) bool {
	return h.Input.Pin == in && h.Output.Pin == out && h.Output.Direction == dir
}

// String describes the harness, e.g. "A (rise) -> Y (rise) | B=1".
func (h *Harness) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s -> %s", h.Input, h.Output)
	var held []string
	if h.Clock != nil {
		held = append(held, fmt.Sprintf("%s=%s", h.Clock.Pin, h.Clock.State))
	}
	for _, c := range []*Control{h.Set, h.Reset} {
		if c != nil {
			held = append(held, fmt.Sprintf("%s=%s", c.Pin, c.State))
		}
	}
	for _, s := range h.StableInputs {
		held = append(held, s.String())
	}
	if len(held) > 0 {
		sb.WriteString(" | " + strings.Join(held, " "))
	}
	return sb.String()
}

// ShortString is a compact name suitable for file names, e.g. "A01_Y01".
func (h *Harness) ShortString() string {
	return fmt.Sprintf("%s%s_%s%s", h.Input.Pin, h.Input.Direction.Code(), h.Output.Pin, h.Output.Direction.Code())
}

// Keys returns every sweep point in row-major order (slew outer).
func (h *Harness) Keys() []SweepKey {
	keys := make([]SweepKey, 0, len(h.results))
	for s := 0; s < h.slews; s++ {
		for l := 0; l < h.loads; l++ {
			keys = append(keys, SweepKey{Slew: s, Load: l})
		}
	}
	return keys
}

func (h *Harness) slot(key SweepKey) int {
	if key.Slew < 0 || key.Slew >= h.slews || key.Load < 0 || key.Load >= h.loads {
		panic(fmt.Sprintf("harness %s: %s outside %dx%d grid", h.Arc(), key, h.slews, h.loads))
	}
	return key.Slew*h.loads + key.Load
}

// Record stores the sample measured at key. Each key must be written by a
// single goroutine.
func (h *Harness) Record(key SweepKey, s *Sample) {
	h.results[h.slot(key)] = s
}

// Sample returns the sample at key, or nil if the trial has not run.
func (h *Harness) Sample(key SweepKey) *Sample {
	return h.results[h.slot(key)]
}

// Complete reports whether every sweep point has a sample.
func (h *Harness) Complete() bool {
	for _, s := range h.results {
		if s == nil {
			return false
		}
	}
	return true
}

// AveragePropagationDelay returns the mean propagation delay over the
// recorded sweep points, or 0 when none are recorded.
func (h *Harness) AveragePropagationDelay() float64 {
	var sum float64
	var n int
	for _, s := range h.results {
		if s != nil {
			sum += s.PropagationDelay
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
