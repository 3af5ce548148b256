// Package math provides float64 vector helpers for contact and force computation.
// Vectors are mgl64 values; this package only adds what mgl64 lacks.
package math

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used to disambiguate degenerate geometry.
const Epsilon = 1e-8

// Clamp restricts v to the range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampLength scales v down so its length does not exceed max.
// Reports whether clamping happened.
func ClampLength(v mgl64.Vec3, max float64) (mgl64.Vec3, bool) {
	if max <= 0 {
		return mgl64.Vec3{}, v.LenSqr() > 0
	}
	l2 := v.LenSqr()
	if l2 <= max*max {
		return v, false
	}
	return v.Mul(max / gomath.Sqrt(l2)), true
}

// ClampComponents clamps each component of v to [-limit, limit].
func ClampComponents(v mgl64.Vec3, limit float64) mgl64.Vec3 {
	return mgl64.Vec3{
		Clamp(v[0], -limit, limit),
		Clamp(v[1], -limit, limit),
		Clamp(v[2], -limit, limit),
	}
}

// SafeNormalize returns the unit vector of v, or false when v is too short to normalize.
func SafeNormalize(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l < Epsilon {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// NearlyZero reports whether every component of v is within Epsilon of zero.
func NearlyZero(v mgl64.Vec3) bool {
	return gomath.Abs(v[0]) < Epsilon && gomath.Abs(v[1]) < Epsilon && gomath.Abs(v[2]) < Epsilon
}

// IsFinite reports whether v has no NaN or Inf components.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if gomath.IsNaN(c) || gomath.IsInf(c, 0) {
			return false
		}
	}
	return true
}
