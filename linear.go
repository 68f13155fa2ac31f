package personsearch

import (
	"fmt"

	"github.com/chaste10ve/person-search/checkpoint"
	"github.com/chaste10ve/person-search/util"
)

// Linear is a fully connected head: y = Wx + b with W stored row-major
// (out rows of in columns).
type Linear struct {
	in, out int
	w, b    []float32
}

// NewLinear builds a head with gaussian-initialized weights and zero bias.
func NewLinear(in, out int, stddev float32, rng *util.RNG) *Linear {
	return &Linear{
		in:  in,
		out: out,
		w:   rng.GaussianSlice(in*out, 0, stddev),
		b:   make([]float32, out),
	}
}

// In returns the input width.
func (l *Linear) In() int { return l.in }

// Out returns the output width.
func (l *Linear) Out() int { return l.out }

// Forward applies the head to one input vector.
func (l *Linear) Forward(x []float32) ([]float32, error) {
	if len(x) != l.in {
		return nil, fmt.Errorf("linear input width %d, want %d", len(x), l.in)
	}
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		row := l.w[o*l.in : (o+1)*l.in]
		var sum float32
		for i, v := range x {
			sum += row[i] * v
		}
		y[o] = sum + l.b[o]
	}
	return y, nil
}

// ForwardBatch applies the head to each row.
func (l *Linear) ForwardBatch(rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		y, err := l.Forward(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// Export deep-copies the parameters for checkpointing.
func (l *Linear) Export() checkpoint.LinearWeights {
	return checkpoint.LinearWeights{
		In:     l.in,
		Out:    l.out,
		Weight: append([]float32(nil), l.w...),
		Bias:   append([]float32(nil), l.b...),
	}
}

// Load replaces the parameters from a checkpoint. The shapes must match
// the head's construction-time shape exactly.
func (l *Linear) Load(w checkpoint.LinearWeights) error {
	if w.In != l.in || w.Out != l.out {
		return fmt.Errorf("head shape (%d,%d) does not match checkpoint (%d,%d)", l.in, l.out, w.In, w.Out)
	}
	if len(w.Weight) != len(l.w) || len(w.Bias) != len(l.b) {
		return fmt.Errorf("head parameter sizes (%d,%d) do not match checkpoint (%d,%d)",
			len(l.w), len(l.b), len(w.Weight), len(w.Bias))
	}
	copy(l.w, w.Weight)
	copy(l.b, w.Bias)
	return nil
}
