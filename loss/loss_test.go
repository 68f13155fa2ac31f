package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetection(t *testing.T) {
	t.Run("UniformLogits", func(t *testing.T) {
		logits := [][]float32{{0, 0}, {0, 0}}
		got, err := Detection(logits, []int{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, math.Log(2), float64(got), 1e-5)
	})

	t.Run("ConfidentCorrect", func(t *testing.T) {
		logits := [][]float32{{10, -10}, {-10, 10}}
		got, err := Detection(logits, []int{0, 1})
		require.NoError(t, err)
		assert.Less(t, float64(got), 1e-6)
	})

	t.Run("ConfidentWrong", func(t *testing.T) {
		logits := [][]float32{{10, -10}}
		got, err := Detection(logits, []int{1})
		require.NoError(t, err)
		assert.InDelta(t, 20.0, float64(got), 1e-3)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Detection(nil, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("BadLabel", func(t *testing.T) {
		_, err := Detection([][]float32{{0, 0}}, []int{2})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("BadWidth", func(t *testing.T) {
		_, err := Detection([][]float32{{0, 0, 0}}, []int{0})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func uniform(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSmoothL1(t *testing.T) {
	t.Run("QuadraticRegion", func(t *testing.T) {
		// |d| = 0.5 < 1: per element 0.5*0.25 = 0.125, 8 elements.
		pred := [][]float32{uniform(8, 0.5)}
		targets := BoxTargets{
			Targets:        [][]float32{uniform(8, 0)},
			InsideWeights:  [][]float32{uniform(8, 1)},
			OutsideWeights: [][]float32{uniform(8, 1)},
		}
		got, err := SmoothL1(pred, targets)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, float64(got), 1e-5)
	})

	t.Run("LinearRegion", func(t *testing.T) {
		// |d| = 3 >= 1: per element 3-0.5 = 2.5, 8 elements.
		pred := [][]float32{uniform(8, 3)}
		targets := BoxTargets{
			Targets:        [][]float32{uniform(8, 0)},
			InsideWeights:  [][]float32{uniform(8, 1)},
			OutsideWeights: [][]float32{uniform(8, 1)},
		}
		got, err := SmoothL1(pred, targets)
		require.NoError(t, err)
		assert.InDelta(t, 20.0, float64(got), 1e-4)
	})

	t.Run("InsideWeightsMaskBackground", func(t *testing.T) {
		pred := [][]float32{uniform(8, 100)}
		targets := BoxTargets{
			Targets:        [][]float32{uniform(8, 0)},
			InsideWeights:  [][]float32{uniform(8, 0)},
			OutsideWeights: [][]float32{uniform(8, 1)},
		}
		got, err := SmoothL1(pred, targets)
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("AveragedOverRegions", func(t *testing.T) {
		pred := [][]float32{uniform(8, 3), uniform(8, 0)}
		targets := BoxTargets{
			Targets:        [][]float32{uniform(8, 0), uniform(8, 0)},
			InsideWeights:  [][]float32{uniform(8, 1), uniform(8, 1)},
			OutsideWeights: [][]float32{uniform(8, 1), uniform(8, 1)},
		}
		got, err := SmoothL1(pred, targets)
		require.NoError(t, err)
		assert.InDelta(t, 10.0, float64(got), 1e-4)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := SmoothL1(nil, BoxTargets{})
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := SmoothL1([][]float32{uniform(8, 0)}, BoxTargets{})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestLossesSum(t *testing.T) {
	l := Losses{RPNClass: 1, RPNBox: 2, Class: 3, Box: 4, Identity: 5}
	assert.Equal(t, float32(15), l.Sum())
	assert.Contains(t, l.String(), "reid=5.0000")
}
