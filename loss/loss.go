package loss

import (
	"errors"
	"fmt"
	"math"

	"github.com/chaste10ve/person-search/vectormath"
)

var (
	// ErrEmptyBatch is returned when a loss is asked for zero regions.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrShapeMismatch is returned when predictions and targets disagree
	// in shape. It indicates a caller bug, never coerced.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Losses carries the five training loss scalars. Summation for
// backpropagation is the caller's responsibility.
type Losses struct {
	RPNClass float32
	RPNBox   float32
	Class    float32
	Box      float32
	Identity float32
}

// Sum returns the combined training signal.
func (l Losses) Sum() float32 {
	return l.RPNClass + l.RPNBox + l.Class + l.Box + l.Identity
}

func (l Losses) String() string {
	return fmt.Sprintf("rpn_cls=%.4f rpn_box=%.4f cls=%.4f box=%.4f reid=%.4f",
		l.RPNClass, l.RPNBox, l.Class, l.Box, l.Identity)
}

// Detection computes the 2-class (person/not-person) softmax cross-entropy,
// averaged over regions. Labels are 0 (background) or 1 (person).
func Detection(logits [][]float32, labels []int) (float32, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(logits) != len(labels) {
		return 0, fmt.Errorf("%w: %d logit rows, %d labels", ErrShapeMismatch, len(logits), len(labels))
	}
	var sum float64
	for i, row := range logits {
		if len(row) != 2 {
			return 0, fmt.Errorf("%w: detection logits must have 2 classes, got %d", ErrShapeMismatch, len(row))
		}
		if labels[i] != 0 && labels[i] != 1 {
			return 0, fmt.Errorf("%w: detection label must be 0 or 1, got %d", ErrShapeMismatch, labels[i])
		}
		sum += float64(vectormath.LogSumExp(row) - row[labels[i]])
	}
	return float32(sum / float64(len(logits))), nil
}

// BoxTargets carries the box regression supervision produced by the
// proposal subsystem: target deltas plus the per-element inside weights
// (only foreground regions regress) and outside weights (normalization).
type BoxTargets struct {
	Targets        [][]float32
	InsideWeights  [][]float32
	OutsideWeights [][]float32
}

// SmoothL1 computes the robust box regression loss over the 8-dim deltas:
// quadratic within |d| < 1, linear beyond, summed per region and averaged
// over the batch.
func SmoothL1(pred [][]float32, t BoxTargets) (float32, error) {
	if len(pred) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(t.Targets) != len(pred) || len(t.InsideWeights) != len(pred) || len(t.OutsideWeights) != len(pred) {
		return 0, fmt.Errorf("%w: %d predictions, %d/%d/%d targets/in/out",
			ErrShapeMismatch, len(pred), len(t.Targets), len(t.InsideWeights), len(t.OutsideWeights))
	}
	var sum float64
	for i, p := range pred {
		tg, in, out := t.Targets[i], t.InsideWeights[i], t.OutsideWeights[i]
		if len(tg) != len(p) || len(in) != len(p) || len(out) != len(p) {
			return 0, fmt.Errorf("%w: region %d widths differ", ErrShapeMismatch, i)
		}
		for k := range p {
			d := float64(in[k]) * float64(p[k]-tg[k])
			ad := math.Abs(d)
			var v float64
			if ad < 1 {
				v = 0.5 * d * d
			} else {
				v = ad - 0.5
			}
			sum += float64(out[k]) * v
		}
	}
	return float32(sum / float64(len(pred))), nil
}
