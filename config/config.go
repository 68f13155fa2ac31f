// Package config holds the externally supplied constants the network needs
// at inference time, chiefly the bounding-box de-normalization parameters.
//
// The constants are passed explicitly into the inference call rather than
// read from a fixed-path file inside the hot path; the YAML loader exists
// for callers that keep them in a training config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BoxNormalization carries the per-coordinate mean and standard deviation
// the box regression targets were normalized with during training. Gallery
// inference multiplies predictions by Stds and adds Means (doubled across
// the 2-class box head) to recover image-space deltas.
type BoxNormalization struct {
	Means [4]float32
	Stds  [4]float32
}

// Validate rejects normalization constants that would corrupt predictions.
func (n BoxNormalization) Validate() error {
	for i, s := range n.Stds {
		if s == 0 {
			return fmt.Errorf("box normalization std %d is zero", i)
		}
	}
	return nil
}

// IdentityBoxNormalization returns the constants that leave predictions
// unchanged (zero means, unit stds).
func IdentityBoxNormalization() BoxNormalization {
	return BoxNormalization{Stds: [4]float32{1, 1, 1, 1}}
}

// DefaultBoxNormalization returns the Faster-RCNN-style training defaults.
func DefaultBoxNormalization() BoxNormalization {
	return BoxNormalization{Stds: [4]float32{0.1, 0.1, 0.2, 0.2}}
}

// File is the on-disk training configuration.
type File struct {
	Backbone string `yaml:"backbone"`
	Dataset  string `yaml:"dataset"`

	HeadModel string `yaml:"head_model"`
	TailModel string `yaml:"tail_model"`

	ProposalTrainModel   string `yaml:"proposal_train_model"`
	ProposalGalleryModel string `yaml:"proposal_gallery_model"`
	ProposalPoolModel    string `yaml:"proposal_pool_model"`

	// OnnxLibrary locates the onnxruntime shared library.
	OnnxLibrary string `yaml:"onnx_library"`

	TrainBBoxNormalizeMeans []float32 `yaml:"train_bbox_normalize_means"`
	TrainBBoxNormalizeStds  []float32 `yaml:"train_bbox_normalize_stds"`
}

// Load reads and parses a YAML config file. A read or parse failure is
// fatal for the caller that needs the file; paths that do not consume
// configuration never call Load.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &f, nil
}

// BoxNormalization extracts and validates the de-normalization constants.
func (f *File) BoxNormalization() (BoxNormalization, error) {
	var n BoxNormalization
	if len(f.TrainBBoxNormalizeMeans) != 4 || len(f.TrainBBoxNormalizeStds) != 4 {
		return n, fmt.Errorf("config must carry 4 bbox normalize means and stds, got %d/%d",
			len(f.TrainBBoxNormalizeMeans), len(f.TrainBBoxNormalizeStds))
	}
	copy(n.Means[:], f.TrainBBoxNormalizeMeans)
	copy(n.Stds[:], f.TrainBBoxNormalizeStds)
	if err := n.Validate(); err != nil {
		return n, err
	}
	return n, nil
}
