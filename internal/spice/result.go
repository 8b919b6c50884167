package spice

import (
	"context"
	"strings"

	"github.com/roach88/charlib/internal/errs"
)

// Capabilities describes what a simulator backend can do.
type Capabilities struct {
	// Name identifies the backend in logs.
	Name string

	// ConcurrentInstances is true when independent trials may be simulated
	// at the same time. Process-wide singleton bindings report false.
	ConcurrentInstances bool
}

// Simulator runs decks. Implementations must be safe for concurrent use
// when Capabilities().ConcurrentInstances is true.
//
// A trial that does not converge, or a measurement that cannot be taken,
// is reported as an *errs.ResultError.
type Simulator interface {
	Capabilities() Capabilities
	Transient(ctx context.Context, deck *Deck) (*Result, error)
	AC(ctx context.Context, deck *Deck) (*Result, error)
}

// Result is the outcome of one simulation.
type Result struct {
	// Title is the title of the simulated deck.
	Title string

	// Measurements holds .meas results keyed by lower-cased name.
	Measurements map[string]float64

	// Vectors holds saved vectors keyed by lower-cased name. The scale
	// (time or frequency) is stored under ScaleVector.
	Vectors map[string][]float64

	// Log is the raw simulator output, kept for diagnostics.
	Log string
}

// ScaleVector is the key of the analysis scale in Result.Vectors.
const ScaleVector = "scale"

// NewResult returns an empty result for title.
func NewResult(title string) *Result {
	return &Result{Title: title, Measurements: map[string]float64{}, Vectors: map[string][]float64{}}
}

// Measure returns the named measurement. A missing value is a ResultError.
func (r *Result) Measure(name string) (float64, error) {
	v, ok := r.Measurements[strings.ToLower(name)]
	if !ok {
		return 0, &errs.ResultError{Trial: r.Title, Measurement: name}
	}
	return v, nil
}

// Vector returns the named vector, or nil.
func (r *Result) Vector(name string) []float64 {
	return r.Vectors[strings.ToLower(name)]
}
