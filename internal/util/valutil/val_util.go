// Package valutil provides helpers for defaulting configuration values.
package valutil

// ValOrDefault returns val if it's non-zero, and otherwise defaultVal.
func ValOrDefault[T comparable](val, defaultVal T) T {
	var zero T
	if val != zero {
		return val
	}
	return defaultVal
}

// ValOrDefaultFunc returns val if it's non-zero, and otherwise invokes
// defaultFunc to produce a default. Useful where building the default has a
// cost, like a logger.
func ValOrDefaultFunc[T comparable](val T, defaultFunc func() T) T {
	var zero T
	if val != zero {
		return val
	}
	return defaultFunc()
}
