package vidmem

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// LargestDivisorPow2 returns the largest power of two that evenly divides
// value, capped at the provided maximum. Scanout hardware usually publishes
// its pan granularity implicitly through the row pitch, so this is how a
// start alignment gets derived from a pitch.
func LargestDivisorPow2(value int, max uint) uint {
	var divisor uint = 1
	for divisor < max && value&int(divisor*2-1) == 0 {
		divisor *= 2
	}
	return divisor
}
