package personsearch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chaste10ve/person-search/backbone"
	"github.com/chaste10ve/person-search/checkpoint"
	"github.com/chaste10ve/person-search/checkpoint/store"
	"github.com/chaste10ve/person-search/config"
	"github.com/chaste10ve/person-search/loss"
	"github.com/chaste10ve/person-search/oim"
	"github.com/chaste10ve/person-search/proposal"
	"github.com/chaste10ve/person-search/tensor"
	"github.com/chaste10ve/person-search/util"
	"github.com/chaste10ve/person-search/vectormath"
)

// Head initialization follows the original training recipe: wider spread
// on the classifiers, tighter on box regression.
const (
	clsInitStddev  = 0.01
	boxInitStddev  = 0.001
	reidInitStddev = 0.01
)

// Network couples the backbone, the proposal subsystem, the three linear
// task heads and the identity bank.
//
// The bank is mutated only by Train. Gallery, Query and GalleryBatch are
// read-only with respect to the bank and safe to call concurrently;
// concurrent Train calls serialize on the bank's internal lock but the
// head weights have no such protection, so training is single-writer.
type Network struct {
	backbone backbone.Backbone
	proposer proposal.Proposer
	bank     *oim.Bank

	cls  *Linear // 2-way person/background
	box  *Linear // 8-way box deltas (4 per class)
	reid *Linear // D-way identity embedding

	dataset      Dataset
	embeddingDim int
	training     bool
	step         atomic.Uint64

	logger  *Logger
	metrics MetricsCollector
}

// TrainBatch is one training example: a preprocessed scene image and its
// ground-truth person boxes.
type TrainBatch struct {
	// Image is the preprocessed CHW image tensor.
	Image *tensor.Dense

	// GTBoxes holds one row per ground-truth person: x1, y1, x2, y2 in
	// input-image space plus the identity label (LabelUnlabeled for
	// unidentified persons).
	GTBoxes [][]float32

	Info proposal.ImageInfo
}

// GalleryResult holds the per-region outputs of gallery inference, one
// entry per region across all four slices.
type GalleryResult struct {
	// Regions holds batch index plus the four region coordinates.
	Regions [][]float32

	// Scores holds the 2-class softmax probabilities.
	Scores [][]float32

	// Boxes holds the de-normalized 8-dim box regression outputs.
	Boxes [][]float32

	// Embeddings holds L2-normalized identity embeddings.
	Embeddings [][]float32
}

// InferenceResult is the mode-dispatched inference output: exactly one of
// the two fields is set, matching the requested mode.
type InferenceResult struct {
	Gallery *GalleryResult
	Query   []float32
}

// NewNetwork builds a person search network for the given dataset.
// training selects whether Train is permitted; inference networks reject
// it without touching the bank.
func NewNetwork(bb backbone.Backbone, pr proposal.Proposer, dataset string, training bool, optFns ...Option) (*Network, error) {
	if bb == nil {
		return nil, errors.New("nil backbone")
	}
	if pr == nil {
		return nil, errors.New("nil proposer")
	}
	o := applyOptions(optFns)

	ds, err := LookupDataset(dataset)
	if err != nil {
		return nil, err
	}
	if o.numIdentities > 0 {
		ds.NumIdentities = o.numIdentities
		ds.QueueSize = o.queueSize
	}

	bank, err := oim.New(ds.NumIdentities, ds.QueueSize, o.embeddingDim, o.momentum)
	if err != nil {
		return nil, fmt.Errorf("build identity bank: %w", err)
	}

	rng := util.NewRNG(o.seed)
	featDim := bb.FeatureDim()
	n := &Network{
		backbone:     bb,
		proposer:     pr,
		bank:         bank,
		cls:          NewLinear(featDim, 2, clsInitStddev, rng),
		box:          NewLinear(featDim, 8, boxInitStddev, rng),
		reid:         NewLinear(featDim, o.embeddingDim, reidInitStddev, rng),
		dataset:      ds,
		embeddingDim: o.embeddingDim,
		training:     training,
		logger:       o.logger.WithDataset(ds.Name).WithDimension(o.embeddingDim),
		metrics:      o.metricsCollector,
	}
	return n, nil
}

// Bank exposes the identity bank, primarily for checkpoint inspection.
func (n *Network) Bank() *oim.Bank { return n.bank }

// Dataset returns the dataset the network was built for.
func (n *Network) Dataset() Dataset { return n.dataset }

// EmbeddingDim returns the identity embedding width.
func (n *Network) EmbeddingDim() int { return n.embeddingDim }

// Step returns the number of completed training steps.
func (n *Network) Step() uint64 { return n.step.Load() }

// Close releases the backbone and proposer resources.
func (n *Network) Close() error {
	return errors.Join(n.backbone.Close(), n.proposer.Close())
}

// describe maps pooled region features to per-region task descriptors.
// Families that consume flattened pooled features (vgg16 style) flatten
// before the tail; the rest reduce the tail output by spatial averaging.
func (n *Network) describe(ctx context.Context, pooled *tensor.Dense) ([][]float32, error) {
	if n.backbone.FlattenPooled() {
		flat, err := pooled.Flatten2D()
		if err != nil {
			return nil, fmt.Errorf("flatten pooled features: %w", err)
		}
		desc, err := n.backbone.Tail(ctx, flat)
		if err != nil {
			return nil, fmt.Errorf("backbone tail: %w", err)
		}
		return desc.Rows()
	}

	out, err := n.backbone.Tail(ctx, pooled)
	if err != nil {
		return nil, fmt.Errorf("backbone tail: %w", err)
	}
	desc, err := out.SpatialMean()
	if err != nil {
		return nil, fmt.Errorf("reduce tail output: %w", err)
	}
	return desc.Rows()
}

// Train runs one training step and returns the five-part composite loss.
// This is the only path that mutates the identity bank.
func (n *Network) Train(ctx context.Context, batch *TrainBatch) (loss.Losses, error) {
	start := time.Now()
	losses, err := n.train(ctx, batch)
	n.metrics.RecordTrainStep(time.Since(start), err)
	n.logger.LogTrainStep(ctx, n.step.Load(), losses, err)
	return losses, err
}

func (n *Network) train(ctx context.Context, batch *TrainBatch) (loss.Losses, error) {
	var zero loss.Losses
	if !n.training {
		return zero, ErrNotTraining
	}
	if batch == nil || batch.Image == nil {
		return zero, errors.New("nil train batch")
	}
	if len(batch.GTBoxes) == 0 {
		return zero, errors.New("train batch has no ground-truth boxes")
	}

	conv, err := n.backbone.Head(ctx, batch.Image)
	if err != nil {
		return zero, fmt.Errorf("backbone head: %w", err)
	}
	tp, err := n.proposer.ProposeTrain(ctx, conv, batch.GTBoxes, batch.Info)
	if err != nil {
		return zero, fmt.Errorf("propose train: %w", err)
	}

	desc, err := n.describe(ctx, tp.Pooled)
	if err != nil {
		return zero, err
	}

	clsLogits, err := n.cls.ForwardBatch(desc)
	if err != nil {
		return zero, fmt.Errorf("cls head: %w", err)
	}
	boxPred, err := n.box.ForwardBatch(desc)
	if err != nil {
		return zero, fmt.Errorf("box head: %w", err)
	}
	embeddings, err := n.reid.ForwardBatch(desc)
	if err != nil {
		return zero, fmt.Errorf("reid head: %w", err)
	}

	clsLoss, err := loss.Detection(clsLogits, tp.DetectionLabels)
	if err != nil {
		return zero, fmt.Errorf("detection loss: %w", err)
	}
	boxLoss, err := loss.SmoothL1(boxPred, tp.BoxTargets)
	if err != nil {
		return zero, fmt.Errorf("box loss: %w", err)
	}
	reidLoss, err := loss.Identity(embeddings, tp.IdentityLabels, n.bank, len(batch.GTBoxes))
	if err != nil {
		return zero, fmt.Errorf("identity loss: %w", err)
	}

	n.step.Add(1)
	return loss.Losses{
		RPNClass: tp.RPNClassLoss,
		RPNBox:   tp.RPNBoxLoss,
		Class:    clsLoss,
		Box:      boxLoss,
		Identity: reidLoss,
	}, nil
}

// Infer dispatches an inference call by mode. Unknown modes are rejected
// before any computation, leaving the bank untouched.
func (n *Network) Infer(ctx context.Context, mode Mode, image *tensor.Dense, boxes [][]float32, info proposal.ImageInfo, norm config.BoxNormalization) (*InferenceResult, error) {
	switch mode {
	case ModeGallery:
		res, err := n.Gallery(ctx, image, boxes, info, norm)
		if err != nil {
			return nil, err
		}
		return &InferenceResult{Gallery: res}, nil
	case ModeQuery:
		emb, err := n.Query(ctx, image, boxes, info)
		if err != nil {
			return nil, err
		}
		return &InferenceResult{Query: emb}, nil
	default:
		return nil, &ErrUnknownMode{Mode: mode.String()}
	}
}

// Gallery detects persons in a scene image. boxes may carry externally
// proposed regions; a nil slice lets the proposal subsystem generate them.
// Box regression outputs are de-normalized per coordinate with the given
// normalization, applied to both 4-dim halves of the 8-dim output.
func (n *Network) Gallery(ctx context.Context, image *tensor.Dense, boxes [][]float32, info proposal.ImageInfo, norm config.BoxNormalization) (*GalleryResult, error) {
	start := time.Now()
	res, err := n.gallery(ctx, image, boxes, info, norm)
	regions := 0
	if res != nil {
		regions = len(res.Regions)
	}
	n.metrics.RecordGallery(regions, time.Since(start), err)
	n.logger.LogGallery(ctx, regions, err)
	return res, err
}

func (n *Network) gallery(ctx context.Context, image *tensor.Dense, boxes [][]float32, info proposal.ImageInfo, norm config.BoxNormalization) (*GalleryResult, error) {
	if image == nil {
		return nil, errors.New("nil image")
	}
	if err := norm.Validate(); err != nil {
		return nil, fmt.Errorf("box normalization: %w", err)
	}

	conv, err := n.backbone.Head(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("backbone head: %w", err)
	}
	gp, err := n.proposer.ProposeGallery(ctx, conv, boxes, info)
	if err != nil {
		return nil, fmt.Errorf("propose gallery: %w", err)
	}
	if len(gp.Regions) == 0 {
		return nil, ErrNoRegions
	}

	desc, err := n.describe(ctx, gp.Pooled)
	if err != nil {
		return nil, err
	}
	if len(desc) != len(gp.Regions) {
		return nil, fmt.Errorf("descriptor count %d does not match region count %d", len(desc), len(gp.Regions))
	}

	clsLogits, err := n.cls.ForwardBatch(desc)
	if err != nil {
		return nil, fmt.Errorf("cls head: %w", err)
	}
	boxPred, err := n.box.ForwardBatch(desc)
	if err != nil {
		return nil, fmt.Errorf("box head: %w", err)
	}
	embeddings, err := n.reid.ForwardBatch(desc)
	if err != nil {
		return nil, fmt.Errorf("reid head: %w", err)
	}

	res := &GalleryResult{
		Regions:    gp.Regions,
		Scores:     make([][]float32, len(desc)),
		Boxes:      make([][]float32, len(desc)),
		Embeddings: make([][]float32, len(desc)),
	}
	for i := range desc {
		res.Scores[i] = vectormath.Softmax(clsLogits[i])
		res.Boxes[i] = denormalizeBoxes(boxPred[i], norm)

		emb, ok := vectormath.NormalizeL2Copy(embeddings[i])
		if !ok {
			return nil, fmt.Errorf("region %d: %w", i, loss.ErrZeroEmbedding)
		}
		res.Embeddings[i] = emb
	}
	return res, nil
}

// Query embeds a single known person region. boxes must hold exactly one
// region row.
func (n *Network) Query(ctx context.Context, image *tensor.Dense, boxes [][]float32, info proposal.ImageInfo) ([]float32, error) {
	start := time.Now()
	emb, err := n.query(ctx, image, boxes, info)
	n.metrics.RecordQuery(time.Since(start), err)
	n.logger.LogQuery(ctx, err)
	return emb, err
}

func (n *Network) query(ctx context.Context, image *tensor.Dense, boxes [][]float32, info proposal.ImageInfo) ([]float32, error) {
	if image == nil {
		return nil, errors.New("nil image")
	}
	if len(boxes) != 1 {
		return nil, fmt.Errorf("query takes exactly one region, got %d", len(boxes))
	}

	conv, err := n.backbone.Head(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("backbone head: %w", err)
	}
	pooled, err := n.proposer.Pool(ctx, conv, boxes, info)
	if err != nil {
		return nil, fmt.Errorf("pool query region: %w", err)
	}

	desc, err := n.describe(ctx, pooled)
	if err != nil {
		return nil, err
	}
	if len(desc) != 1 {
		return nil, fmt.Errorf("expected one descriptor, got %d", len(desc))
	}

	raw, err := n.reid.Forward(desc[0])
	if err != nil {
		return nil, fmt.Errorf("reid head: %w", err)
	}
	emb, ok := vectormath.NormalizeL2Copy(raw)
	if !ok {
		return nil, loss.ErrZeroEmbedding
	}
	return emb, nil
}

// denormalizeBoxes undoes the target normalization the trainer applied:
// stds*pred + means per coordinate, repeated across both 4-dim halves of
// the 2-class output.
func denormalizeBoxes(pred []float32, norm config.BoxNormalization) []float32 {
	out := make([]float32, len(pred))
	for i, v := range pred {
		out[i] = v*norm.Stds[i%4] + norm.Means[i%4]
	}
	return out
}

// Checkpoint captures the trainable state: the bank snapshot plus all
// three head weights.
func (n *Network) Checkpoint() (*checkpoint.Checkpoint, error) {
	snap, err := n.bank.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot bank: %w", err)
	}
	return &checkpoint.Checkpoint{
		Dataset:      n.dataset.Name,
		EmbeddingDim: n.embeddingDim,
		Step:         n.step.Load(),
		Bank:         snap,
		Heads: map[string]checkpoint.LinearWeights{
			"cls":  n.cls.Export(),
			"box":  n.box.Export(),
			"reid": n.reid.Export(),
		},
	}, nil
}

// PublishCheckpoint captures the trainable state and publishes it to the
// store. A nil codec selects the default.
func (n *Network) PublishCheckpoint(ctx context.Context, st store.Store, codec checkpoint.Codec) (*checkpoint.Manifest, error) {
	start := time.Now()
	m, err := n.publishCheckpoint(ctx, st, codec)
	n.metrics.RecordCheckpoint(time.Since(start), err)
	var id uint64
	if m != nil {
		id = m.ID
	}
	n.logger.LogCheckpoint(ctx, id, err)
	return m, err
}

func (n *Network) publishCheckpoint(ctx context.Context, st store.Store, codec checkpoint.Codec) (*checkpoint.Manifest, error) {
	ck, err := n.Checkpoint()
	if err != nil {
		return nil, err
	}
	return checkpoint.Publish(ctx, st, ck, codec)
}

// RestoreCheckpoint replaces the trainable state from a checkpoint. The
// checkpoint must match the network's dataset and shapes.
func (n *Network) RestoreCheckpoint(ck *checkpoint.Checkpoint) error {
	if ck == nil || ck.Bank == nil {
		return errors.New("nil checkpoint")
	}
	if ck.Dataset != n.dataset.Name {
		return fmt.Errorf("checkpoint dataset %q does not match network dataset %q", ck.Dataset, n.dataset.Name)
	}
	if ck.EmbeddingDim != n.embeddingDim {
		return fmt.Errorf("checkpoint embedding dim %d does not match network %d", ck.EmbeddingDim, n.embeddingDim)
	}
	for _, name := range []string{"cls", "box", "reid"} {
		if _, ok := ck.Heads[name]; !ok {
			return fmt.Errorf("checkpoint missing head %q", name)
		}
	}

	if err := n.bank.Restore(ck.Bank); err != nil {
		return fmt.Errorf("restore bank: %w", err)
	}
	if err := n.cls.Load(ck.Heads["cls"]); err != nil {
		return fmt.Errorf("restore cls head: %w", err)
	}
	if err := n.box.Load(ck.Heads["box"]); err != nil {
		return fmt.Errorf("restore box head: %w", err)
	}
	if err := n.reid.Load(ck.Heads["reid"]); err != nil {
		return fmt.Errorf("restore reid head: %w", err)
	}
	n.step.Store(ck.Step)
	return nil
}
