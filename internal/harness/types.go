package harness

import (
	"fmt"

	"github.com/roach88/charlib/internal/logic"
	"github.com/roach88/charlib/internal/spice"
)

// Direction is the switching direction of a target pin.
type Direction string

const (
	Rise Direction = "rise"
	Fall Direction = "fall"
)

// Directions lists both directions in table order.
var Directions = []Direction{Rise, Fall}

// ParseDirection converts a transition code ("01" or "10").
func ParseDirection(code string) (Direction, bool) {
	switch code {
	case logic.Rise:
		return Rise, true
	case logic.Fall:
		return Fall, true
	}
	return "", false
}

// Code returns the transition code of d.
func (d Direction) Code() string {
	if d == Rise {
		return logic.Rise
	}
	return logic.Fall
}

// Edge returns the measurement edge qualifier of d.
func (d Direction) Edge() spice.Edge {
	if d == Rise {
		return spice.EdgeRise
	}
	return spice.EdgeFall
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Rise {
		return Fall
	}
	return Rise
}

// PinState is a pin held at a stable level.
type PinState struct {
	Pin   string `json:"pin"`
	State string `json:"state"`
}

// High reports whether the pin is held high.
func (s PinState) High() bool { return s.State == logic.High }

func (s PinState) String() string { return s.Pin + "=" + s.State }

// Transition is a target pin and its switching direction.
type Transition struct {
	Pin       string    `json:"pin"`
	Direction Direction `json:"direction"`
}

func (t Transition) String() string { return fmt.Sprintf("%s (%s)", t.Pin, t.Direction) }

// SweepKey addresses one point of the slew x load grid by index into the
// declared slew and load lists.
type SweepKey struct {
	Slew int
	Load int
}

func (k SweepKey) String() string { return fmt.Sprintf("slew[%d] load[%d]", k.Slew, k.Load) }

// Sample is the outcome of the trial run at one sweep point.
// Times are in seconds.
type Sample struct {
	Result           *spice.Result
	PropagationDelay float64
	Transition       float64

	// Setup and Hold are the offsets a sequential trial was run with.
	Setup float64
	Hold  float64

	// SetupMargin and HoldMargin are the data-to-clock and clock-to-data
	// times the simulator measured for those offsets. Zero when the trial
	// did not measure them.
	SetupMargin float64
	HoldMargin  float64
}
