package loss

import (
	"errors"
	"fmt"

	"github.com/chaste10ve/person-search/oim"
	"github.com/chaste10ve/person-search/vectormath"
)

// logitScale is the inverse softmax temperature applied to the bank logits.
// Inner products of unit vectors live in [-1,1]; without sharpening, the
// softmax over a bank of thousands of rows is nearly uniform and the loss
// carries almost no signal.
const logitScale = 10.0

// ErrZeroEmbedding is returned when an embedding has zero L2 norm and
// cannot be normalized.
var ErrZeroEmbedding = errors.New("embedding has zero norm")

// Identity computes the re-identification loss for one training batch and
// applies the paired bank update.
//
// Embeddings are L2-normalized here before either the logits computation or
// the bank update. Samples with a known identity contribute a softmax
// cross-entropy term over the bank's combined (LUT + queue) gallery;
// unlabeled and background samples contribute no term (unlabeled persons
// have no target class, background regions are excluded entirely). The
// summed loss is normalized by batchScale, the number of ground-truth
// instances in the batch, keeping the gradient magnitude independent of the
// bank size.
//
// The bank mutation happens only here, on the same path that computes the
// loss; inference paths never call Identity, so they never mutate the bank.
func Identity(embeddings [][]float32, labels []oim.Label, bank *oim.Bank, batchScale int) (float32, error) {
	if len(embeddings) != len(labels) {
		return 0, fmt.Errorf("%w: %d embeddings, %d labels", ErrShapeMismatch, len(embeddings), len(labels))
	}
	if len(embeddings) == 0 {
		return 0, nil
	}

	normed := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		n, ok := vectormath.NormalizeL2Copy(e)
		if !ok {
			return 0, fmt.Errorf("%w: sample %d", ErrZeroEmbedding, i)
		}
		normed[i] = n
	}

	logits, err := bank.Logits(normed)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i, label := range labels {
		if !label.IsKnown() {
			continue
		}
		if int(label) >= bank.NumIdentities() {
			return 0, &oim.ErrIdentityOutOfRange{ID: int32(label), NumIdentities: bank.NumIdentities()}
		}
		row := logits[i]
		vectormath.ScaleInPlace(row, logitScale)
		sum += float64(vectormath.LogSumExp(row) - row[label])
	}

	scale := batchScale
	if scale < 1 {
		scale = 1
	}
	value := float32(sum / float64(scale))

	if err := bank.Update(normed, labels); err != nil {
		return 0, err
	}
	return value, nil
}
