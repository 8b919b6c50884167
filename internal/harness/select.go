package harness

// FilterByPorts returns the harnesses targeting in->out, in order.
func FilterByPorts(harnesses []*Harness, in, out string) []*Harness {
	var matched []*Harness
	for _, h := range harnesses {
		if h.Input.Pin == in && h.Output.Pin == out {
			matched = append(matched, h)
		}
	}
	return matched
}

// FindByArc returns the first harness targeting in->out with output
// direction dir, or nil.
func FindByArc(harnesses []*Harness, in, out string, dir Direction) *Harness {
	for _, h := range harnesses {
		if h.Matches(in, out, dir) {
			return h
		}
	}
	return nil
}

// WorstCase returns the harness targeting in->out with output direction dir
// whose average propagation delay is largest. The first harness seen wins
// ties. ok is false when no harness matches.
func WorstCase(harnesses []*Harness, in, out string, dir Direction) (worst *Harness, ok bool) {
	for _, h := range FilterByPorts(harnesses, in, out) {
		if h.Direction() != dir {
			continue
		}
		if worst == nil || h.AveragePropagationDelay() > worst.AveragePropagationDelay() {
			worst = h
		}
	}
	return worst, worst != nil
}
