package grading

import "math"

// Percent converts earned/max points into a 0-100 score, rounded half away
// from zero. A test without points scores 0.
func Percent(earned, max float64) int {
	if max <= 0 {
		return 0
	}
	p := math.Round(100 * earned / max)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// Passed applies the inclusive pass boundary.
func Passed(score, passingScore int) bool {
	return score >= passingScore
}
