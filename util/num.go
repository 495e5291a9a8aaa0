// Package util holds small leaf helpers shared across the engine.
package util

import "math"

// RoundHalfAway rounds v to the nearest integer, halves away from zero.
func RoundHalfAway(v float64) int64 {
	if v >= 0 {
		return int64(math.Floor(v + 0.5))
	}
	return int64(math.Ceil(v - 0.5))
}

// RoundSecondsToMs converts a seconds value to integer milliseconds,
// rounding half away from zero.
func RoundSecondsToMs(s float64) int64 {
	return RoundHalfAway(s * 1000)
}
