package util

// return pointer to value, useful when handling const
func PointerTo[T any](val T) *T {
	return &val
}

// Clamp limits v to the range [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
