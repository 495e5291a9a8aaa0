package util

import "time"

// Rate computes the per-second rate between two counter values.
func Rate(prev, curr uint64, dt time.Duration) float64 {
	if dt <= 0 || curr < prev {
		return 0
	}
	return float64(curr-prev) / dt.Seconds()
}
