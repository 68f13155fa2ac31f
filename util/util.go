package util

import (
	"math"
	"math/rand"
)

// RNG struct encapsulates the random number generator and seed.
type RNG struct {
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Gaussian returns a normally distributed float32 with the given mean and
// standard deviation.
func (r *RNG) Gaussian(mean, stddev float32) float32 {
	return float32(r.rand.NormFloat64())*stddev + mean
}

// GaussianSlice fills a new slice of length n with Gaussian samples.
func (r *RNG) GaussianSlice(n int, mean, stddev float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Gaussian(mean, stddev)
	}
	return out
}

// GenerateRandomVectors generates random vectors using the given RNG.
func (r *RNG) GenerateRandomVectors(num int, dimensions int) [][]float32 {
	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = make([]float32, dimensions)
		for j := range vectors[i] {
			vectors[i][j] = r.rand.Float32()
		}
	}

	return vectors
}

// GenerateRandomUnitVectors generates random vectors and L2-normalizes each
// one. Useful for producing embedding-like inputs in tests.
func (r *RNG) GenerateRandomUnitVectors(num int, dimensions int) [][]float32 {
	vectors := r.GenerateRandomVectors(num, dimensions)
	for _, v := range vectors {
		var norm2 float64
		for _, x := range v {
			norm2 += float64(x) * float64(x)
		}
		if norm2 == 0 {
			continue
		}
		inv := float32(1 / math.Sqrt(norm2))
		for j := range v {
			v[j] *= inv
		}
	}
	return vectors
}
