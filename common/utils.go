package common

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// AlignUp rounds value up to the next multiple of alignment. Alignment must be a power of two.
//
// Parameters:
//   - value: the value to round
//   - alignment: the power-of-two alignment
//
// Returns:
//   - uint64: the aligned value
func AlignUp(value, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// GrowCapacity returns the smallest capacity that is at least required, doubling from current.
// A zero current capacity starts from minimum.
//
// Parameters:
//   - current: the current capacity
//   - required: the capacity that must fit
//   - minimum: the starting capacity when current is zero
//
// Returns:
//   - uint64: the new capacity
func GrowCapacity(current, required, minimum uint64) uint64 {
	capacity := max(current, minimum, 1)
	for capacity < required {
		capacity *= 2
	}
	return capacity
}
