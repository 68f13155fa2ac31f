package oim

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Snapshot is a deep copy of the bank's mutable state, suitable for
// inclusion in a model checkpoint. Losing the bank mid-training silently
// resets the non-parametric classifier, so checkpoints must carry it.
type Snapshot struct {
	NumIdentities int
	QueueSize     int
	Dim           int
	Momentum      float32

	LUT     []float32
	Queue   []float32
	Cursor  int
	Touched []byte // serialized roaring bitmap
}

// Snapshot captures the current bank state.
func (b *Bank) Snapshot() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf bytes.Buffer
	if _, err := b.touched.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize touched bitmap: %w", err)
	}
	return &Snapshot{
		NumIdentities: b.numIdentities,
		QueueSize:     b.queueSize,
		Dim:           b.dim,
		Momentum:      b.momentum,
		LUT:           append([]float32(nil), b.lut...),
		Queue:         append([]float32(nil), b.queue...),
		Cursor:        b.cursor,
		Touched:       buf.Bytes(),
	}, nil
}

// Restore replaces the bank state with the snapshot's. The snapshot must
// match the bank's construction-time shape exactly; a mismatch indicates a
// checkpoint from a different dataset or embedding configuration.
func (b *Bank) Restore(s *Snapshot) error {
	if s.NumIdentities != b.numIdentities || s.QueueSize != b.queueSize || s.Dim != b.dim {
		return fmt.Errorf("snapshot shape (%d,%d,%d) does not match bank (%d,%d,%d)",
			s.NumIdentities, s.QueueSize, s.Dim, b.numIdentities, b.queueSize, b.dim)
	}
	if len(s.LUT) != len(b.lut) || len(s.Queue) != len(b.queue) {
		return fmt.Errorf("snapshot table sizes (%d,%d) do not match bank (%d,%d)",
			len(s.LUT), len(s.Queue), len(b.lut), len(b.queue))
	}
	if s.Cursor < 0 || s.Cursor >= b.queueSize {
		return fmt.Errorf("snapshot cursor %d out of range [0,%d)", s.Cursor, b.queueSize)
	}

	touched := roaring.New()
	if len(s.Touched) > 0 {
		if _, err := touched.ReadFrom(bytes.NewReader(s.Touched)); err != nil {
			return fmt.Errorf("deserialize touched bitmap: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.lut, s.LUT)
	copy(b.queue, s.Queue)
	b.cursor = s.Cursor
	b.touched = touched
	return nil
}
