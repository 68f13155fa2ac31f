// Package tensor implements the minimal dense float32 tensor carried between
// the backbone, the proposal subsystem and the task heads.
//
// Only the shapes the pipeline actually produces are supported: CHW images,
// NCHW pooled region features and NxF descriptor matrices. The data is a
// single flat slice in row-major order.
package tensor

import "fmt"

// Dense is a dense float32 tensor with row-major layout.
type Dense struct {
	shape []int
	data  []float32
}

// New creates a zero-initialized tensor with the given shape.
func New(shape ...int) *Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Dense{
		shape: append([]int(nil), shape...),
		data:  make([]float32, n),
	}
}

// FromSlice wraps data in a tensor with the given shape.
// The slice is used directly, not copied.
func FromSlice(data []float32, shape ...int) (*Dense, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, n, len(data))
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}, nil
}

// Shape returns the tensor dimensions. The caller must not modify it.
func (t *Dense) Shape() []int { return t.shape }

// Rank returns the number of dimensions.
func (t *Dense) Rank() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Dense) Dim(i int) int { return t.shape[i] }

// Len returns the total number of elements.
func (t *Dense) Len() int { return len(t.data) }

// Data returns the flat backing slice.
func (t *Dense) Data() []float32 { return t.data }

// Row returns the i-th row of a rank-2 tensor as a subslice of the backing
// data (no copy).
func (t *Dense) Row(i int) ([]float32, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("Row requires rank 2, got shape %v", t.shape)
	}
	w := t.shape[1]
	if i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, t.shape[0])
	}
	return t.data[i*w : (i+1)*w], nil
}

// Rows returns all rows of a rank-2 tensor as subslices of the backing data.
func (t *Dense) Rows() ([][]float32, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("Rows requires rank 2, got shape %v", t.shape)
	}
	n, w := t.shape[0], t.shape[1]
	rows := make([][]float32, n)
	for i := 0; i < n; i++ {
		rows[i] = t.data[i*w : (i+1)*w]
	}
	return rows, nil
}

// SpatialMean reduces an NCHW tensor to NxC by averaging over the two
// spatial dimensions.
func (t *Dense) SpatialMean() (*Dense, error) {
	if t.Rank() != 4 {
		return nil, fmt.Errorf("SpatialMean requires rank 4, got shape %v", t.shape)
	}
	n, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	out := New(n, c)
	if h*w == 0 {
		return out, nil
	}
	inv := 1 / float32(h*w)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			var sum float32
			base := (i*c + j) * h * w
			for k := 0; k < h*w; k++ {
				sum += t.data[base+k]
			}
			out.data[i*c+j] = sum * inv
		}
	}
	return out, nil
}

// Flatten2D reshapes an N x ... tensor into N x (product of the remaining
// dimensions), sharing the backing data.
func (t *Dense) Flatten2D() (*Dense, error) {
	if t.Rank() < 2 {
		return nil, fmt.Errorf("Flatten2D requires rank >= 2, got shape %v", t.shape)
	}
	n := t.shape[0]
	rest := 1
	for _, d := range t.shape[1:] {
		rest *= d
	}
	return &Dense{shape: []int{n, rest}, data: t.data}, nil
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{
		shape: append([]int(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}
