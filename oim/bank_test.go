package oim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaste10ve/person-search/util"
	"github.com/chaste10ve/person-search/vectormath"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name                           string
		numIdentities, queueSize, dim  int
		momentum                       float32
		wantErr                        bool
	}{
		{"OK", 483, 500, 256, 0.5, false},
		{"MomentumOne", 10, 10, 8, 1, false},
		{"ZeroIdentities", 0, 500, 256, 0.5, true},
		{"ZeroQueue", 483, 0, 256, 0.5, true},
		{"ZeroDim", 483, 500, 0, 0.5, true},
		{"MomentumZero", 483, 500, 256, 0, true},
		{"MomentumTooBig", 483, 500, 256, 1.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.numIdentities, tt.queueSize, tt.dim, tt.momentum)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogitsShape(t *testing.T) {
	b, err := New(7, 5, 4, 0.5)
	require.NoError(t, err)

	for _, batchSize := range []int{1, 3, 16} {
		embs := util.NewRNG(1).GenerateRandomUnitVectors(batchSize, 4)
		logits, err := b.Logits(embs)
		require.NoError(t, err)
		require.Len(t, logits, batchSize)
		for _, row := range logits {
			assert.Len(t, row, 12, "width must be numIdentities+queueSize regardless of updates")
		}
	}

	// Shape is unchanged after updates touch the bank.
	require.NoError(t, b.Update([][]float32{unit(4, 0)}, []Label{2}))
	logits, err := b.Logits([][]float32{unit(4, 1)})
	require.NoError(t, err)
	assert.Len(t, logits[0], 12)
}

func TestLogitsDimensionMismatch(t *testing.T) {
	b, err := New(7, 5, 4, 0.5)
	require.NoError(t, err)

	_, err = b.Logits([][]float32{make([]float32, 3)})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestUpdateKnownIdentity(t *testing.T) {
	const dim = 8
	b, err := New(10, 5, dim, 0.5)
	require.NoError(t, err)

	e := unit(dim, 2)
	require.NoError(t, b.Update([][]float32{e}, []Label{3}))

	row, err := b.LUTRow(3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(vectormath.Norm(row)), 1e-5, "LUT rows stay unit scale")
	// Zero row blended with e and renormalized points exactly at e.
	assert.InDelta(t, 1.0, float64(vectormath.Dot(row, e)), 1e-5)
	assert.EqualValues(t, 1, b.TouchedIdentities())

	// A second update moves the row toward the new embedding.
	e2 := unit(dim, 5)
	require.NoError(t, b.Update([][]float32{e2}, []Label{3}))
	row, err = b.LUTRow(3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(vectormath.Norm(row)), 1e-5)
	assert.Greater(t, vectormath.Dot(row, e2), float32(0), "row moved toward e2")
	assert.Greater(t, vectormath.Dot(row, e), float32(0), "row retains part of e")
	assert.EqualValues(t, 1, b.TouchedIdentities())
}

func TestUpdateMomentumOneIsIdentity(t *testing.T) {
	b, err := New(4, 3, 4, 1)
	require.NoError(t, err)

	before, err := b.Snapshot()
	require.NoError(t, err)

	embs := util.NewRNG(7).GenerateRandomUnitVectors(6, 4)
	labels := []Label{0, 1, LabelUnlabeled, 2, LabelUnlabeled, 3}
	require.NoError(t, b.Update(embs, labels))
	require.NoError(t, b.Update(embs, labels))

	after, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before.LUT, after.LUT)
	assert.Equal(t, before.Queue, after.Queue)
	assert.Equal(t, before.Cursor, after.Cursor)
}

func TestQueueFIFORing(t *testing.T) {
	const dim = 4
	const queueSize = 3
	b, err := New(2, queueSize, dim, 0.5)
	require.NoError(t, err)

	// queueSize + k pushes, k=2: slots hold the last queueSize embeddings,
	// oldest overwritten first.
	embs := util.NewRNG(11).GenerateRandomUnitVectors(queueSize+2, dim)
	for _, e := range embs {
		require.NoError(t, b.Update([][]float32{e}, []Label{LabelUnlabeled}))
	}

	// Push order: e0 e1 e2 wrap e3 e4. Slots: [e3 e4 e2].
	slot0, _ := b.QueueRow(0)
	slot1, _ := b.QueueRow(1)
	slot2, _ := b.QueueRow(2)
	assert.Equal(t, embs[3], slot0)
	assert.Equal(t, embs[4], slot1)
	assert.Equal(t, embs[2], slot2)
}

func TestBackgroundNeverMutates(t *testing.T) {
	b, err := New(5, 4, 8, 0.5)
	require.NoError(t, err)

	// Seed some state first.
	rng := util.NewRNG(3)
	seed := rng.GenerateRandomUnitVectors(2, 8)
	require.NoError(t, b.Update(seed, []Label{1, LabelUnlabeled}))

	before, err := b.Snapshot()
	require.NoError(t, err)

	bg := rng.GenerateRandomUnitVectors(4, 8)
	require.NoError(t, b.Update(bg, []Label{LabelBackground, LabelBackground, LabelBackground, LabelBackground}))

	after, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before.LUT, after.LUT, "background samples must leave the LUT bit-identical")
	assert.Equal(t, before.Queue, after.Queue, "background samples must leave the queue bit-identical")
	assert.Equal(t, before.Cursor, after.Cursor)
}

func TestUpdateEmptyBatch(t *testing.T) {
	b, err := New(5, 4, 8, 0.5)
	require.NoError(t, err)
	before, _ := b.Snapshot()
	require.NoError(t, b.Update(nil, nil))
	after, _ := b.Snapshot()
	assert.Equal(t, before.LUT, after.LUT)
	assert.Equal(t, before.Queue, after.Queue)
}

func TestUpdateValidation(t *testing.T) {
	b, err := New(5, 4, 8, 0.5)
	require.NoError(t, err)

	t.Run("BatchMismatch", func(t *testing.T) {
		err := b.Update([][]float32{unit(8, 0)}, nil)
		assert.ErrorIs(t, err, ErrBatchMismatch)
	})

	t.Run("IdentityOutOfRange", func(t *testing.T) {
		err := b.Update([][]float32{unit(8, 0)}, []Label{5})
		var oor *ErrIdentityOutOfRange
		require.ErrorAs(t, err, &oor)
		assert.EqualValues(t, 5, oor.ID)
		assert.Equal(t, 5, oor.NumIdentities)
	})

	t.Run("BadBatchLeavesBankUntouched", func(t *testing.T) {
		before, _ := b.Snapshot()
		// First sample valid, second out of range: nothing may be applied.
		err := b.Update([][]float32{unit(8, 0), unit(8, 1)}, []Label{0, 99})
		require.Error(t, err)
		after, _ := b.Snapshot()
		assert.Equal(t, before.LUT, after.LUT)
		assert.Equal(t, before.Queue, after.Queue)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		err := b.Update([][]float32{make([]float32, 7)}, []Label{0})
		var dm *ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})
}

// The end-to-end scenario from the training protocol: one batch of four
// samples against a full-size sysu bank.
func TestMixedBatchScenario(t *testing.T) {
	const dim = 256
	b, err := New(5532, 5000, dim, 0.5)
	require.NoError(t, err)

	rng := util.NewRNG(42)
	embs := rng.GenerateRandomUnitVectors(4, dim)
	e1, e2, e4 := embs[0], embs[1], embs[3]
	labels := []Label{10, LabelUnlabeled, LabelBackground, 10}

	require.NoError(t, b.Update(embs, labels))

	// lut[10] = normalize(0.5*normalize(0.5*0+0.5*e1) + 0.5*e4), applied
	// sequentially in index order.
	want, ok := vectormath.NormalizeL2Copy(e1)
	require.True(t, ok)
	for k := range want {
		want[k] = 0.5*want[k] + 0.5*e4[k]
	}
	require.True(t, vectormath.NormalizeL2InPlace(want))

	got, err := b.LUTRow(10)
	require.NoError(t, err)
	for k := range want {
		assert.InDelta(t, want[k], got[k], 1e-5)
	}

	// Queue slot 0 holds e2 and the cursor advanced once.
	slot0, err := b.QueueRow(0)
	require.NoError(t, err)
	assert.Equal(t, e2, slot0)

	// Everything else is untouched.
	assert.EqualValues(t, 1, b.TouchedIdentities())
	zero, err := b.LUTRow(11)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, dim), zero)
	slot1, err := b.QueueRow(1)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, dim), slot1)
}

func TestUpdateDeterministic(t *testing.T) {
	run := func() *Snapshot {
		b, err := New(20, 10, 16, 0.5)
		require.NoError(t, err)
		rng := util.NewRNG(123)
		for i := 0; i < 5; i++ {
			embs := rng.GenerateRandomUnitVectors(6, 16)
			labels := []Label{3, LabelUnlabeled, 7, LabelBackground, 3, LabelUnlabeled}
			require.NoError(t, b.Update(embs, labels))
		}
		s, err := b.Snapshot()
		require.NoError(t, err)
		return s
	}

	a, b := run(), run()
	assert.Equal(t, a.LUT, b.LUT)
	assert.Equal(t, a.Queue, b.Queue)
	assert.Equal(t, a.Cursor, b.Cursor)
}

func TestSnapshotRestore(t *testing.T) {
	b, err := New(6, 4, 8, 0.5)
	require.NoError(t, err)

	rng := util.NewRNG(17)
	embs := rng.GenerateRandomUnitVectors(5, 8)
	require.NoError(t, b.Update(embs, []Label{0, 2, LabelUnlabeled, LabelUnlabeled, 5}))

	snap, err := b.Snapshot()
	require.NoError(t, err)

	restored, err := New(6, 4, 8, 0.5)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))

	got, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.LUT, got.LUT)
	assert.Equal(t, snap.Queue, got.Queue)
	assert.Equal(t, snap.Cursor, got.Cursor)
	assert.Equal(t, b.TouchedIdentities(), restored.TouchedIdentities())

	t.Run("ShapeMismatch", func(t *testing.T) {
		other, err := New(7, 4, 8, 0.5)
		require.NoError(t, err)
		assert.Error(t, other.Restore(snap))
	})
}
