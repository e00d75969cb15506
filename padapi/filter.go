package padapi

import "math"

// FullScale is the magnitude of a signed 16-bit axis sample.
const FullScale = 1 << 15

// DefaultSensitivity is the fraction of full scale a value must move before it is sent again.
const DefaultSensitivity = 0.05

// Normalize maps a raw axis sample to the protocol range. Sticks land in [-1, 1]; triggers use
// the same divisor and therefore top out just below 1.
func Normalize(raw int, fullScale float64) float64 {
	return float64(raw) / fullScale
}

// ShouldEmit reports whether current differs from previous by strictly more than
// sensitivity*fullScale.
func ShouldEmit(previous, current, sensitivity, fullScale float64) bool {
	return math.Abs(current-previous) > sensitivity*fullScale
}
