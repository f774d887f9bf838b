package utils

import (
	"fmt"
	"math"
)

// CheckAddOverflow checks if adding two uint64 values would overflow.
func CheckAddOverflow(a, b uint64) error {
	if a > math.MaxUint64-b {
		return fmt.Errorf("addition overflow: %d + %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeAdd adds two uint64 values and returns the result if no overflow occurs.
func SafeAdd(a, b uint64) (uint64, error) {
	if err := CheckAddOverflow(a, b); err != nil {
		return 0, err
	}
	return a + b, nil
}

// MaxElementPayloadSize bounds a single element payload hydrated into
// memory. Larger payloads are expected to be consumed incrementally
// rather than read whole; the bound guards against a corrupt size vint
// claiming an implausible payload length.
const MaxElementPayloadSize = 4 * 1024 * 1024 * 1024 // 4GiB

// ValidatePayloadSize rejects payload sizes past MaxElementPayloadSize.
// Zero is legal: an element may have an empty payload.
func ValidatePayloadSize(size uint64, description string) error {
	if size > MaxElementPayloadSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, uint64(MaxElementPayloadSize))
	}
	return nil
}
