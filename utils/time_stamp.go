package utils

import (
	"time"
)

// Millis converts an integer millisecond setting to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Hours converts a relative time in seconds to fractional hours for plotting.
func Hours(seconds float64) float64 {
	return seconds / 3600.0
}

// SamplePeriod returns the spacing between samples of a sensor running at rateHz.
func SamplePeriod(rateHz float64) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rateHz)
}
