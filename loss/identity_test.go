package loss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaste10ve/person-search/oim"
	"github.com/chaste10ve/person-search/util"
	"github.com/chaste10ve/person-search/vectormath"
)

func newBank(t *testing.T, identities, queue, dim int) *oim.Bank {
	t.Helper()
	b, err := oim.New(identities, queue, dim, 0.5)
	require.NoError(t, err)
	return b
}

func TestIdentityNormalizesAtBoundary(t *testing.T) {
	const dim = 16
	b := newBank(t, 8, 4, dim)

	// Deliberately unnormalized embedding.
	raw := make([]float32, dim)
	raw[3] = 5

	_, err := Identity([][]float32{raw}, []oim.Label{2}, b, 1)
	require.NoError(t, err)

	row, err := b.LUTRow(2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(vectormath.Norm(row)), 1e-5)
	// The input itself must not have been scaled in place.
	assert.Equal(t, float32(5), raw[3])
}

func TestIdentityLossValue(t *testing.T) {
	const dim = 4
	b := newBank(t, 2, 2, dim)

	e := []float32{1, 0, 0, 0}
	// First call against a zero bank: logits all zero, CE = log(L+Q).
	got, err := Identity([][]float32{e}, []oim.Label{0}, b, 1)
	require.NoError(t, err)
	// L+Q = 4 gallery rows, all zero at loss time: CE = ln(4).
	assert.InDelta(t, 1.3863, float64(got), 1e-3)

	// Second call with the same embedding: lut[0] now points at e, so the
	// correct class dominates and the loss drops.
	got2, err := Identity([][]float32{e}, []oim.Label{0}, b, 1)
	require.NoError(t, err)
	assert.Less(t, got2, got)
}

func TestIdentityUnlabeledAndBackgroundContributeNoTerm(t *testing.T) {
	const dim = 8
	b := newBank(t, 4, 4, dim)

	embs := util.NewRNG(5).GenerateRandomUnitVectors(2, dim)
	got, err := Identity(embs, []oim.Label{oim.LabelUnlabeled, oim.LabelBackground}, b, 2)
	require.NoError(t, err)
	assert.Zero(t, got)

	// The unlabeled sample still advanced the queue.
	slot0, err := b.QueueRow(0)
	require.NoError(t, err)
	assert.NotEqual(t, make([]float32, dim), slot0)
}

func TestIdentityBatchScaleNormalization(t *testing.T) {
	const dim = 8
	mk := func() (*oim.Bank, [][]float32, []oim.Label) {
		b := newBank(t, 4, 4, dim)
		embs := util.NewRNG(9).GenerateRandomUnitVectors(2, dim)
		return b, embs, []oim.Label{1, 2}
	}

	b1, embs, labels := mk()
	l1, err := Identity(embs, labels, b1, 1)
	require.NoError(t, err)

	b2, embs2, labels2 := mk()
	l2, err := Identity(embs2, labels2, b2, 4)
	require.NoError(t, err)

	assert.InDelta(t, float64(l1)/4, float64(l2), 1e-5)
}

func TestIdentityZeroEmbedding(t *testing.T) {
	b := newBank(t, 4, 4, 8)
	_, err := Identity([][]float32{make([]float32, 8)}, []oim.Label{1}, b, 1)
	assert.ErrorIs(t, err, ErrZeroEmbedding)
}

func TestIdentityOutOfRangeID(t *testing.T) {
	b := newBank(t, 4, 4, 8)
	before, err := b.Snapshot()
	require.NoError(t, err)

	embs := util.NewRNG(1).GenerateRandomUnitVectors(1, 8)
	_, err = Identity(embs, []oim.Label{17}, b, 1)
	var oor *oim.ErrIdentityOutOfRange
	require.ErrorAs(t, err, &oor)

	after, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before.LUT, after.LUT, "failed loss must not mutate the bank")
}

func TestIdentityUpdatesBank(t *testing.T) {
	const dim = 8
	b := newBank(t, 4, 4, dim)

	embs := util.NewRNG(2).GenerateRandomUnitVectors(3, dim)
	_, err := Identity(embs, []oim.Label{0, oim.LabelUnlabeled, 3}, b, 3)
	require.NoError(t, err)

	assert.EqualValues(t, 2, b.TouchedIdentities())
}
