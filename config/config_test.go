package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxNormalizationValidate(t *testing.T) {
	assert.NoError(t, IdentityBoxNormalization().Validate())
	assert.NoError(t, DefaultBoxNormalization().Validate())

	bad := BoxNormalization{Stds: [4]float32{1, 0, 1, 1}}
	assert.Error(t, bad.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yml")
		content := `
backbone: res50
dataset: sysu
head_model: models/head.onnx
tail_model: models/tail.onnx
train_bbox_normalize_means: [0.0, 0.0, 0.0, 0.0]
train_bbox_normalize_stds: [0.1, 0.1, 0.2, 0.2]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		f, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "res50", f.Backbone)
		assert.Equal(t, "sysu", f.Dataset)

		n, err := f.BoxNormalization()
		require.NoError(t, err)
		assert.Equal(t, [4]float32{0.1, 0.1, 0.2, 0.2}, n.Stds)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yml")
		require.NoError(t, os.WriteFile(path, []byte("backbone: [unclosed"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("WrongWidth", func(t *testing.T) {
		f := &File{
			TrainBBoxNormalizeMeans: []float32{0, 0},
			TrainBBoxNormalizeStds:  []float32{1, 1, 1, 1},
		}
		_, err := f.BoxNormalization()
		assert.Error(t, err)
	})
}
