package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/charlib/internal/spice"
)

// Snapshot renders harnesses and their recorded samples as deterministic
// text for golden comparison. Sweep points without a sample are shown as
// "pending".
func Snapshot(harnesses []*Harness) []byte {
	var sb strings.Builder
	for _, h := range harnesses {
		sb.WriteString(h.String() + "\n")
		for _, key := range h.Keys() {
			s := h.Sample(key)
			if s == nil {
				fmt.Fprintf(&sb, "  %s pending\n", key)
				continue
			}
			fmt.Fprintf(&sb, "  %s prop=%s trans=%s", key, spice.Num(s.PropagationDelay), spice.Num(s.Transition))
			if h.Clock != nil {
				fmt.Fprintf(&sb, " setup=%s hold=%s", spice.Num(s.Setup), spice.Num(s.Hold))
			}
			sb.WriteString("\n")
		}
	}
	return []byte(sb.String())
}

// AssertGolden compares the snapshot of harnesses against the golden file
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run the test with -update.
func AssertGolden(t *testing.T, name string, harnesses []*Harness) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(harnesses))
}
