// Package xmath provides small overflow-aware integer helpers for unsigned
// 64-bit quantities such as block numbers, slots and byte offsets that must
// never silently wrap. The consensus tree's Prune uses SaturatingSub.
package xmath

import "math/bits"

// AbsoluteDifference returns |x-y| without risking the underflow a naive
// x-y would produce when x < y.
func AbsoluteDifference(x, y uint64) uint64 {
	if x > y {
		return x - y
	}
	return y - x
}

// SafeAdd returns x+y and reports whether the addition overflowed uint64.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// SafeSub returns x-y and reports whether the subtraction underflowed.
func SafeSub(x, y uint64) (uint64, bool) {
	diff, borrowOut := bits.Sub64(x, y, 0)
	return diff, borrowOut != 0
}

// SaturatingSub returns x-y, floored at zero instead of wrapping.
func SaturatingSub(x, y uint64) uint64 {
	if y > x {
		return 0
	}
	return x - y
}

// CeilDiv returns ceil(x/y), or 0 if y is 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}
