package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		d, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, d.Shape())
		assert.Equal(t, 6, d.Len())
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := FromSlice([]float32{1, 2, 3}, 2, 2)
		assert.Error(t, err)
	})

	t.Run("NegativeDim", func(t *testing.T) {
		_, err := FromSlice(nil, -1, 3)
		assert.Error(t, err)
	})
}

func TestRows(t *testing.T) {
	d, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	rows, err := d.Rows()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, rows[0])
	assert.Equal(t, []float32{4, 5, 6}, rows[1])

	// Rows share the backing data.
	rows[1][0] = 42
	assert.Equal(t, float32(42), d.Data()[3])

	_, err = New(2, 3, 4).Rows()
	assert.Error(t, err)
}

func TestSpatialMean(t *testing.T) {
	// 1 region, 2 channels, 2x2 spatial.
	d, err := FromSlice([]float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	}, 1, 2, 2, 2)
	require.NoError(t, err)

	m, err := d.SpatialMean()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, m.Shape())
	assert.InDelta(t, 2.5, m.Data()[0], 1e-5)
	assert.InDelta(t, 25.0, m.Data()[1], 1e-5)

	_, err = New(2, 3).SpatialMean()
	assert.Error(t, err)
}

func TestFlatten2D(t *testing.T) {
	d := New(2, 3, 4)
	f, err := d.Flatten2D()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, f.Shape())

	// Shares backing data.
	f.Data()[0] = 7
	assert.Equal(t, float32(7), d.Data()[0])

	_, err = New(5).Flatten2D()
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	d, err := FromSlice([]float32{1, 2}, 1, 2)
	require.NoError(t, err)
	c := d.Clone()
	c.Data()[0] = 99
	assert.Equal(t, float32(1), d.Data()[0])
}
