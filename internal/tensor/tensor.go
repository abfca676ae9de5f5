package tensor

import (
	"errors"
	"fmt"
)

// Errors returned by tensor construction and conversion.
var (
	ErrDataSize    = errors.New("data size does not match shape")
	ErrOutOfBounds = errors.New("view extends beyond storage")
	ErrRank        = errors.New("unexpected tensor rank")
)

// Tensor is a dense, row-major numeric array.
type Tensor struct {
	shape Shape
	dtype DataType
	data  []float64
}

// New creates a tensor over data, which must hold exactly shape.NumElements() values.
// The slice is retained, not copied.
func New(shape Shape, dtype DataType, data []float64) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrDataSize, shape, shape.NumElements(), len(data))
	}
	return &Tensor{shape: shape.Clone(), dtype: dtype, data: data}, nil
}

// FromStrided gathers a contiguous tensor out of a strided view into storage,
// the way PyTorch and NumPy describe non-contiguous arrays.
func FromStrided(storage []float64, dtype DataType, shape Shape, strides []int, offset int) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(strides) != len(shape) {
		return nil, fmt.Errorf("strides %v do not match shape %v", strides, shape)
	}

	n := shape.NumElements()
	if n == 0 {
		return &Tensor{shape: shape.Clone(), dtype: dtype, data: []float64{}}, nil
	}

	// Bounds of the view, assuming non-negative strides.
	last := offset
	for i, dim := range shape {
		if strides[i] < 0 {
			return nil, fmt.Errorf("negative stride %d at dimension %d", strides[i], i)
		}
		last += (dim - 1) * strides[i]
	}
	if offset < 0 || last >= len(storage) {
		return nil, fmt.Errorf("%w: offset %d, last index %d, storage length %d", ErrOutOfBounds, offset, last, len(storage))
	}

	data := make([]float64, n)
	index := make([]int, len(shape))
	for i := 0; i < n; i++ {
		pos := offset
		for d, idx := range index {
			pos += idx * strides[d]
		}
		data[i] = storage[pos]

		// Advance the multi-index, last dimension fastest.
		for d := len(index) - 1; d >= 0; d-- {
			index[d]++
			if index[d] < shape[d] {
				break
			}
			index[d] = 0
		}
	}

	return &Tensor{shape: shape.Clone(), dtype: dtype, data: data}, nil
}

// Shape returns the tensor shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the data type the values were stored with.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Data returns the row-major values.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the number of values in the tensor.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// String returns a compact description such as "float32[4 512]".
func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.dtype, []int(t.shape))
}

// Rows returns a rank-2 tensor as a table of independent row slices.
// An empty rank-1 tensor is treated as an empty table.
func (t *Tensor) Rows() ([][]float64, error) {
	switch {
	case len(t.shape) == 2:
		rows := make([][]float64, t.shape[0])
		cols := t.shape[1]
		for i := range rows {
			row := make([]float64, cols)
			copy(row, t.data[i*cols:(i+1)*cols])
			rows[i] = row
		}
		return rows, nil
	case len(t.shape) == 1 && t.shape[0] == 0:
		return [][]float64{}, nil
	default:
		return nil, fmt.Errorf("%w: want 2 dimensions, got shape %v", ErrRank, []int(t.shape))
	}
}

// Vector returns the values of a rank-1 tensor.
func (t *Tensor) Vector() ([]float64, error) {
	if len(t.shape) != 1 {
		return nil, fmt.Errorf("%w: want 1 dimension, got shape %v", ErrRank, []int(t.shape))
	}
	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out, nil
}

// Scalar returns the only value of a single-element tensor.
func (t *Tensor) Scalar() (float64, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("%w: want a single element, got shape %v", ErrRank, []int(t.shape))
	}
	return t.data[0], nil
}
