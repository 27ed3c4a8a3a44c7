package util

// FindFirst returns the first element of slice for which predicate returns true.
// If no element matches, it returns the zero value and false.
func FindFirst[T any](slice []T, predicate func(T) bool) (T, bool) {
	for _, v := range slice {
		if predicate(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
