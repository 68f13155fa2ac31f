package proposal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenBoxes(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		data, shape, err := FlattenBoxes([][]float32{
			{1, 2, 3, 4, 7},
			{5, 6, 7, 8, 9},
		})
		require.NoError(t, err)
		assert.Equal(t, [2]int64{2, 5}, shape)
		assert.Equal(t, []float32{1, 2, 3, 4, 7, 5, 6, 7, 8, 9}, data)
	})

	t.Run("Empty", func(t *testing.T) {
		data, shape, err := FlattenBoxes(nil)
		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Equal(t, [2]int64{0, 0}, shape)
	})

	t.Run("RaggedRows", func(t *testing.T) {
		_, _, err := FlattenBoxes([][]float32{{1, 2, 3, 4}, {1, 2}})
		assert.Error(t, err)
	})
}
