package oim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/chaste10ve/person-search/vectormath"
)

var (
	// ErrBatchMismatch is returned when embeddings and labels differ in length.
	ErrBatchMismatch = errors.New("embeddings and labels must have the same length")
)

// ErrDimensionMismatch indicates an embedding whose width differs from the
// bank's embedding dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrIdentityOutOfRange indicates a known-identity label outside
// [0, NumIdentities). It is a caller bug, never coerced.
type ErrIdentityOutOfRange struct {
	ID            int32
	NumIdentities int
}

func (e *ErrIdentityOutOfRange) Error() string {
	return fmt.Sprintf("identity id %d out of range [0,%d)", e.ID, e.NumIdentities)
}

// Bank is the persistent identity store: a LUT of per-identity running
// embeddings and a FIFO ring of unlabeled-person embeddings.
//
// Both tables are flat row-major float32 slices, allocated once and
// zero-initialized. The bank lives for the whole training run and is the
// only long-lived mutable state of the network; it must be included in
// checkpoints (see Snapshot/Restore).
type Bank struct {
	mu sync.Mutex

	dim           int
	numIdentities int
	queueSize     int
	momentum      float32

	lut    []float32 // numIdentities x dim
	queue  []float32 // queueSize x dim
	cursor int       // next queue write slot

	touched *roaring.Bitmap // identity ids that received >= 1 update
}

// New creates a zero-initialized bank. The momentum m controls how much a
// new embedding moves a LUT row versus retaining the prior average; m must
// be in (0, 1]. With m == 1 updates degenerate to the identity and the bank
// never changes.
func New(numIdentities, queueSize, dim int, momentum float32) (*Bank, error) {
	if numIdentities <= 0 {
		return nil, fmt.Errorf("numIdentities must be positive, got %d", numIdentities)
	}
	if queueSize <= 0 {
		return nil, fmt.Errorf("queueSize must be positive, got %d", queueSize)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dim must be positive, got %d", dim)
	}
	if momentum <= 0 || momentum > 1 {
		return nil, fmt.Errorf("momentum must be in (0,1], got %g", momentum)
	}
	return &Bank{
		dim:           dim,
		numIdentities: numIdentities,
		queueSize:     queueSize,
		momentum:      momentum,
		lut:           make([]float32, numIdentities*dim),
		queue:         make([]float32, queueSize*dim),
		touched:       roaring.New(),
	}, nil
}

// Dim returns the embedding dimension.
func (b *Bank) Dim() int { return b.dim }

// NumIdentities returns the number of LUT rows.
func (b *Bank) NumIdentities() int { return b.numIdentities }

// QueueSize returns the ring capacity.
func (b *Bank) QueueSize() int { return b.queueSize }

// Size returns the width of the logits matrix: NumIdentities + QueueSize.
func (b *Bank) Size() int { return b.numIdentities + b.queueSize }

// Momentum returns the blend coefficient fixed at construction.
func (b *Bank) Momentum() float32 { return b.momentum }

// TouchedIdentities returns how many distinct identities have received at
// least one update.
func (b *Bank) TouchedIdentities() uint64 { return b.touched.GetCardinality() }

// LUTRow returns a copy of LUT row i.
func (b *Bank) LUTRow(i int) ([]float32, error) {
	if i < 0 || i >= b.numIdentities {
		return nil, &ErrIdentityOutOfRange{ID: int32(i), NumIdentities: b.numIdentities}
	}
	return append([]float32(nil), b.lut[i*b.dim:(i+1)*b.dim]...), nil
}

// QueueRow returns a copy of ring slot i.
func (b *Bank) QueueRow(i int) ([]float32, error) {
	if i < 0 || i >= b.queueSize {
		return nil, fmt.Errorf("queue slot %d out of range [0,%d)", i, b.queueSize)
	}
	return append([]float32(nil), b.queue[i*b.dim:(i+1)*b.dim]...), nil
}

// Logits computes the similarity logits for a batch of embeddings: a
// B x (NumIdentities + QueueSize) matrix of inner products against every
// LUT row followed by every queue row.
//
// Embeddings must already be L2-normalized; the bank does not renormalize
// inputs here.
func (b *Bank) Logits(embeddings [][]float32) ([][]float32, error) {
	out := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		if len(emb) != b.dim {
			return nil, &ErrDimensionMismatch{Expected: b.dim, Actual: len(emb)}
		}
		row := make([]float32, b.Size())
		for j := 0; j < b.numIdentities; j++ {
			row[j] = vectormath.Dot(emb, b.lut[j*b.dim:(j+1)*b.dim])
		}
		for j := 0; j < b.queueSize; j++ {
			row[b.numIdentities+j] = vectormath.Dot(emb, b.queue[j*b.dim:(j+1)*b.dim])
		}
		out[i] = row
	}
	return out, nil
}

// Update applies the bank mutation for one training batch, in sample index
// order:
//
//   - known identity i: lut[i] = normalize(m*lut[i] + (1-m)*emb)
//   - unlabeled person: queue[cursor] = emb; cursor advances modulo QueueSize
//   - background: no mutation
//
// Inputs are validated before any row is written, so a bad batch leaves the
// bank untouched. An empty batch is a no-op. Momentum 1 is a pure-identity
// fast path that changes nothing.
func (b *Bank) Update(embeddings [][]float32, labels []Label) error {
	if len(embeddings) != len(labels) {
		return fmt.Errorf("%w: %d embeddings, %d labels", ErrBatchMismatch, len(embeddings), len(labels))
	}
	for i, emb := range embeddings {
		if len(emb) != b.dim {
			return &ErrDimensionMismatch{Expected: b.dim, Actual: len(emb)}
		}
		if labels[i].IsKnown() && int(labels[i]) >= b.numIdentities {
			return &ErrIdentityOutOfRange{ID: int32(labels[i]), NumIdentities: b.numIdentities}
		}
	}
	if b.momentum == 1 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.momentum
	for i, emb := range embeddings {
		label := labels[i]
		switch {
		case label.IsKnown():
			row := b.lut[int(label)*b.dim : (int(label)+1)*b.dim]
			for k := range row {
				row[k] = m*row[k] + (1-m)*emb[k]
			}
			// A zero-norm blend (all-zero row and embedding) stays zero.
			vectormath.NormalizeL2InPlace(row)
			b.touched.Add(uint32(label))
		case label.IsUnlabeled():
			copy(b.queue[b.cursor*b.dim:(b.cursor+1)*b.dim], emb)
			b.cursor = (b.cursor + 1) % b.queueSize
		}
	}
	return nil
}
