package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/spice"
)

// Oracle is a deterministic spice.Simulator for tests.
//
// Transient decks are answered from a first-order delay model driven by the
// "slew" and "load" deck parameters (seconds and farads):
//
//	prop  = Intrinsic + SlewFactor*slew + Drive*load + Adjust(deck)
//	trans = 0.4*Intrinsic + 0.5*SlewFactor*slew + 2*Drive*load
//
// When the deck carries "setup" and "hold" parameters (sequential trials),
// offsets below SetupMin or HoldMin fail like a missed capture.
//
// AC decks are answered as an ideal capacitor of value Capacitance driven
// by a 1uA source: mag(v(vin)) = 1e-6 / (2*pi*f*C).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Oracle struct {
	// Concurrent is reported as Capabilities().ConcurrentInstances.
	Concurrent bool

	Intrinsic  float64
	SlewFactor float64
	Drive      float64

	// Capacitance is the input capacitance seen by AC decks, in farads.
	Capacitance float64

	// SetupMin and HoldMin are the smallest offsets that still capture.
	SetupMin float64
	HoldMin  float64

	// Adjust adds a deck-specific delay. Optional.
	Adjust func(deck *spice.Deck) float64

	// Fail forces a ResultError for matching decks. Optional.
	Fail func(deck *spice.Deck) bool

	// Observe is called with every deck before it is simulated. Optional.
	Observe func(deck *spice.Deck)

	mu       sync.Mutex
	titles   []string
	calls    map[string]int
	active   int
	peak     int
	setupLog []float64
}

// NewOracle returns an oracle with a plausible 130nm-ish delay model.
func NewOracle(concurrent bool) *Oracle {
	return &Oracle{
		Concurrent:  concurrent,
		Intrinsic:   50e-12,
		SlewFactor:  0.3,
		Drive:       2e3,
		Capacitance: 2e-15,
		SetupMin:    40e-12,
		HoldMin:     -10e-12,
		calls:       map[string]int{},
	}
}

// Capabilities implements spice.Simulator.
func (o *Oracle) Capabilities() spice.Capabilities {
	return spice.Capabilities{Name: "oracle", ConcurrentInstances: o.Concurrent}
}

func (o *Oracle) enter(deck *spice.Deck) {
	if o.Observe != nil {
		o.Observe(deck)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string]int{}
	}
	o.calls[deck.Analysis()]++
	o.titles = append(o.titles, deck.Title)
	if s, ok := deck.Param("setup"); ok {
		o.setupLog = append(o.setupLog, s)
	}
	o.active++
	if o.active > o.peak {
		o.peak = o.active
	}
}

func (o *Oracle) leave() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active--
}

// Transient implements spice.Simulator.
func (o *Oracle) Transient(ctx context.Context, deck *spice.Deck) (*spice.Result, error) {
	o.enter(deck)
	defer o.leave()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Fail != nil && o.Fail(deck) {
		return nil, &errs.ResultError{Trial: deck.Title}
	}
	if setup, ok := deck.Param("setup"); ok && setup < o.SetupMin {
		return nil, &errs.ResultError{Trial: deck.Title, Measurement: "prop_in_out"}
	}
	if hold, ok := deck.Param("hold"); ok && hold < o.HoldMin {
		return nil, &errs.ResultError{Trial: deck.Title, Measurement: "prop_in_out"}
	}

	slew, _ := deck.Param("slew")
	load, _ := deck.Param("load")
	prop := o.Intrinsic + o.SlewFactor*slew + o.Drive*load
	if o.Adjust != nil {
		prop += o.Adjust(deck)
	}
	trans := 0.4*o.Intrinsic + 0.5*o.SlewFactor*slew + 2*o.Drive*load

	result := spice.NewResult(deck.Title)
	for _, m := range deck.Measures {
		switch m.Name {
		case "prop_in_out":
			result.Measurements[m.Name] = prop
		case "trans_out":
			result.Measurements[m.Name] = trans
		case "t_setup":
			result.Measurements[m.Name], _ = deck.Param("setup")
		case "t_hold":
			result.Measurements[m.Name], _ = deck.Param("hold")
		}
	}
	return result, nil
}

// AC implements spice.Simulator.
func (o *Oracle) AC(ctx context.Context, deck *spice.Deck) (*spice.Result, error) {
	o.enter(deck)
	defer o.leave()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Fail != nil && o.Fail(deck) {
		return nil, &errs.ResultError{Trial: deck.Title}
	}

	result := spice.NewResult(deck.Title)
	sweep := deck.AC
	decades := math.Log10(sweep.Stop / sweep.Start)
	n := int(math.Round(decades*float64(sweep.PointsPerDecade))) + 1
	for i := 0; i < n; i++ {
		f := sweep.Start * math.Pow(10, float64(i)/float64(sweep.PointsPerDecade))
		result.Vectors[spice.ScaleVector] = append(result.Vectors[spice.ScaleVector], f)
		for _, name := range deck.Save {
			result.Vectors[name] = append(result.Vectors[name], 1e-6/(2*math.Pi*f*o.Capacitance))
		}
	}
	return result, nil
}

// Calls returns how many decks of the given analysis ("tran" or "ac")
// were simulated.
func (o *Oracle) Calls(analysis string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[analysis]
}

// Titles returns the titles of every simulated deck, sorted.
func (o *Oracle) Titles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := append([]string(nil), o.titles...)
	sort.Strings(out)
	return out
}

// PeakConcurrency returns the largest number of simultaneous simulations.
func (o *Oracle) PeakConcurrency() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peak
}

// SetupOffsets returns the "setup" parameter of every simulated deck in
// call order.
func (o *Oracle) SetupOffsets() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.setupLog...)
}

// Reset clears the call history.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.titles = nil
	o.calls = map[string]int{}
	o.peak = 0
	o.setupLog = nil
}
