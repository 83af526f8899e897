// Package xmath holds small generic numeric helpers.
package xmath

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CeilPow2 returns the smallest power of two >= v, or 1 for v <= 1.
func CeilPow2[T constraints.Integer](v T) T {
	p := T(1)
	for p < v {
		p <<= 1
	}
	return p
}

// FloorPow2 returns the largest power of two <= v, or 1 for v <= 1.
func FloorPow2[T constraints.Integer](v T) T {
	p := T(1)
	for p<<1 <= v && p<<1 > p {
		p <<= 1
	}
	return p
}

// CeilDiv returns a/b rounded up for positive b.
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}
