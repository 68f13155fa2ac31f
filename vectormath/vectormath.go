// Package vectormath provides the float32 vector primitives used by the
// identity bank and the loss computations: dot products, L2 normalization
// and numerically stable softmax helpers.
package vectormath

import (
	"math"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// ScaleInPlace multiplies every element of v by s.
func ScaleInPlace(v []float32, s float32) {
	for i := range v {
		v[i] *= s
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	ScaleInPlace(v, inv)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// LogSumExp computes log(sum(exp(v))) with max-shifting for stability.
func LogSumExp(v []float32) float32 {
	if len(v) == 0 {
		return float32(math.Inf(-1))
	}
	m := slices.Max(v)
	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x - m))
	}
	return m + float32(math.Log(sum))
}

// Softmax returns the softmax of v as a new slice.
func Softmax(v []float32) []float32 {
	out := make([]float32, len(v))
	if len(v) == 0 {
		return out
	}
	m := slices.Max(v)
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - m))
		out[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	ScaleInPlace(out, inv)
	return out
}
