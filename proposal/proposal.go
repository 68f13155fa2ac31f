// Package proposal defines the region/identity proposal subsystem consumed
// by the person search network: the component that turns a convolutional
// feature map into candidate regions, pooled per-region features and, in
// training, the detection and identity supervision targets.
//
// The subsystem itself is an external collaborator (see the ONNX adapter);
// this package fixes the interface boundary and the shapes crossing it.
package proposal

import (
	"context"

	"github.com/chaste10ve/person-search/loss"
	"github.com/chaste10ve/person-search/oim"
	"github.com/chaste10ve/person-search/tensor"
)

// ImageInfo describes the preprocessed image a feature map came from.
type ImageInfo struct {
	Height float32
	Width  float32
	Scale  float32
}

// TrainProposal is the training-call result: pooled features, the
// spatially-transformed auxiliary feature view, the two region-proposal
// losses and the per-region supervision targets.
type TrainProposal struct {
	// Pooled holds the NCHW pooled region features feeding the backbone tail.
	Pooled *tensor.Dense

	// Aux is the transformed (spatially invariant) feature view. It is
	// carried through the pipeline but currently unused by the identity
	// head, which shares the detection descriptor.
	Aux *tensor.Dense

	RPNClassLoss float32
	RPNBoxLoss   float32

	// DetectionLabels holds the 2-class person/not-person targets (0/1).
	DetectionLabels []int

	// IdentityLabels classifies each region for the identity bank.
	IdentityLabels []oim.Label

	// BoxTargets carries the regression supervision for the 8-dim box head.
	BoxTargets loss.BoxTargets
}

// GalleryProposal is the inference-call result for gallery mode.
type GalleryProposal struct {
	// Regions holds one row per region: batch index plus the four corner
	// coordinates, in input-image space.
	Regions [][]float32

	Pooled *tensor.Dense
	Aux    *tensor.Dense
}

// Proposer is the proposal subsystem capability consumed by the network.
type Proposer interface {
	// ProposeTrain consumes ground truth and returns pooled features plus
	// training targets.
	ProposeTrain(ctx context.Context, conv *tensor.Dense, gtBoxes [][]float32, info ImageInfo) (*TrainProposal, error)

	// ProposeGallery proposes and pools regions without consuming
	// ground-truth supervision.
	ProposeGallery(ctx context.Context, conv *tensor.Dense, boxes [][]float32, info ImageInfo) (*GalleryProposal, error)

	// Pool runs the pooling-only path for query mode: the caller already
	// knows the region and only wants its pooled feature.
	Pool(ctx context.Context, conv *tensor.Dense, boxes [][]float32, info ImageInfo) (*tensor.Dense, error)

	// Close releases the underlying resources.
	Close() error
}
