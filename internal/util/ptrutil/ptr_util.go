// Package ptrutil provides helpers for taking pointers to values, like the
// optional statistics of a report.
package ptrutil

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}
