package characterize

import (
	"context"
	"math"

	"github.com/roach88/charlib/internal/errs"
	"github.com/roach88/charlib/internal/harness"
)

// probe runs one trial with the searched offset set to t seconds.
type probe func(ctx context.Context, t float64) (*harness.Sample, error)

// searchResult is the outcome of a bisection.
type searchResult struct {
	// Offset is the smallest offset seen to capture, in seconds.
	Offset float64

	// Sample is the trial run at Offset.
	Sample *harness.Sample

	// Iterations is the number of trials run.
	Iterations int

	// Found is false when no trial captured.
	Found bool
}

// bisect narrows [lowest-step, highest+step] around the smallest offset at
// which the trial still captures. A trial fails when it returns a
// ResultError or when its propagation delay exceeds that of the previous
// passing trial; a failed trial raises the lower bound, a passing trial
// lowers the upper bound. The search stops once the midpoint moves by no
// more than step. Any other error aborts the search.
func bisect(ctx context.Context, lowest, highest, step float64, run probe) (searchResult, error) {
	var res searchResult
	tMax := highest + step
	tMin := lowest - step
	prev := math.Inf(1)

	for tMin <= tMax {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t := (tMax + tMin) / 2
		res.Iterations++

		s, err := run(ctx, t)
		failed := false
		if err != nil {
			if !errs.IsResult(err) {
				return res, err
			}
			failed = true
		}

		if failed || s.PropagationDelay > prev {
			tMin = t
		} else {
			tMax = t
			res.Offset, res.Sample, res.Found = t, s, true
		}

		if math.Abs(t-(tMax+tMin)/2) <= step {
			break
		}
		if !failed {
			prev = s.PropagationDelay
		}
	}
	return res, nil
}
