package models

// DetectionResult label -> instance count for one frame. Absent labels mean zero.
type DetectionResult map[string]int

// Total sums the counts of the given labels; all labels when none are given.
func (r DetectionResult) Total(labels ...string) int {
	if len(labels) == 0 {
		n := 0
		for _, c := range r {
			n += c
		}
		return n
	}
	n := 0
	for _, l := range labels {
		n += r[l]
	}
	return n
}
