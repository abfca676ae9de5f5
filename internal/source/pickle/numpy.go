package pickle

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nlpodyssey/gopickle/types"

	"github.com/printguard/protoconv/internal/source/pyobj"
	"github.com/printguard/protoconv/internal/tensor"
)

// numpyKinds maps array-protocol type strings to tensor types.
var numpyKinds = map[string]tensor.DataType{
	"f2": tensor.Float16,
	"f4": tensor.Float32,
	"f8": tensor.Float64,
	"i1": tensor.Int8,
	"i2": tensor.Int16,
	"i4": tensor.Int32,
	"i8": tensor.Int64,
	"u1": tensor.Uint8,
	"b1": tensor.Bool,

	"float16": tensor.Float16,
	"float32": tensor.Float32,
	"float64": tensor.Float64,
	"int8":    tensor.Int8,
	"int16":   tensor.Int16,
	"int32":   tensor.Int32,
	"int64":   tensor.Int64,
	"uint8":   tensor.Uint8,
	"bool":    tensor.Bool,
}

// dtypeClass stands for numpy.dtype, and for the numpy.dtypes classes
// (Float32DType, ...) in which case name is set.
type dtypeClass struct {
	name string
}

// Call implements numpy.dtype(obj, align, copy).
func (c dtypeClass) Call(args ...any) (any, error) {
	spec := strings.TrimSuffix(c.name, "DType")
	if len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("numpy.dtype: expected str, got %T", args[0])
		}
		spec = s
	}
	return newDtype(spec), nil
}

// PyNew implements instantiation of the numpy.dtypes classes.
func (c dtypeClass) PyNew(args ...any) (any, error) {
	return c.Call(args...)
}

type dtype struct {
	spec  string
	kind  tensor.DataType
	order binary.ByteOrder
	err   error
}

func newDtype(spec string) *dtype {
	d := &dtype{spec: spec, order: binary.LittleEndian}
	s := spec
	if s != "" {
		switch s[0] {
		case '>':
			d.order = binary.BigEndian
			s = s[1:]
		case '<', '=', '|':
			s = s[1:]
		}
	}
	kind, ok := numpyKinds[strings.ToLower(s)]
	if !ok {
		d.err = fmt.Errorf("unsupported numpy dtype %q", spec)
	}
	d.kind = kind
	return d
}

// PySetState applies (version, byteorder, subarray, names, fields, elsize,
// alignment, flags). Only the byte order matters here.
func (d *dtype) PySetState(state any) error {
	items, ok := tupleItems(state)
	if !ok || len(items) < 2 {
		return nil
	}
	if order, ok := items[1].(string); ok && order == ">" {
		d.order = binary.BigEndian
	}
	return nil
}

// reconstructFunc implements numpy.core.multiarray._reconstruct. The array
// contents arrive afterwards through BUILD.
type reconstructFunc struct{}

func (reconstructFunc) Call(...any) (any, error) {
	return &ndarray{}, nil
}

type ndarray struct {
	shape   tensor.Shape
	dtype   *dtype
	fortran bool
	raw     []byte
	ready   bool
}

// PySetState applies ndarray.__setstate__:
// (version, shape, dtype, is_fortran, rawdata), version being optional.
func (a *ndarray) PySetState(state any) error {
	items, ok := tupleItems(state)
	if !ok {
		return fmt.Errorf("ndarray state: expected tuple, got %T", state)
	}
	if len(items) == 5 {
		items = items[1:]
	}
	if len(items) != 4 {
		return fmt.Errorf("ndarray state: expected 4 or 5 items, got %d", len(items))
	}

	shape, err := pyobj.Ints(items[0])
	if err != nil {
		return fmt.Errorf("ndarray shape: %w", err)
	}
	dt, ok := items[1].(*dtype)
	if !ok {
		return fmt.Errorf("ndarray dtype: unexpected %T", items[1])
	}
	fortran, _ := items[2].(bool)

	// Object arrays carry a list instead of raw bytes; they stay unconvertible.
	raw, err := rawData(items[3])
	if err != nil {
		dt = &dtype{spec: dt.spec, err: fmt.Errorf("ndarray data: %w", err)}
	}

	a.shape = tensor.Shape(shape)
	a.dtype = dt
	a.fortran = fortran
	a.raw = raw
	a.ready = true
	return nil
}

// Tensor materializes the array.
func (a *ndarray) Tensor() (*tensor.Tensor, error) {
	if !a.ready {
		return nil, fmt.Errorf("ndarray was never populated")
	}
	if a.dtype.err != nil {
		return nil, a.dtype.err
	}
	values, err := tensor.DecodeBytes(a.raw, a.dtype.kind, a.dtype.order)
	if err != nil {
		return nil, err
	}
	strides := a.shape.ComputeStrides()
	if a.fortran {
		strides = a.shape.ComputeFortranStrides()
	}
	return tensor.FromStrided(values, a.dtype.kind, a.shape, strides, 0)
}

// frombufferFunc implements numpy.core.numeric._frombuffer(buf, dtype, shape, order),
// used by protocol 5 pickles.
type frombufferFunc struct{}

func (frombufferFunc) Call(args ...any) (any, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("_frombuffer: expected 4 arguments, got %d", len(args))
	}
	raw, err := pyobj.Bytes(args[0])
	if err != nil {
		return nil, fmt.Errorf("_frombuffer: %w", err)
	}
	dt, ok := args[1].(*dtype)
	if !ok {
		return nil, fmt.Errorf("_frombuffer: unexpected dtype %T", args[1])
	}
	shape, err := pyobj.Ints(args[2])
	if err != nil {
		return nil, fmt.Errorf("_frombuffer shape: %w", err)
	}
	order, _ := args[3].(string)

	return &ndarray{
		shape:   tensor.Shape(shape),
		dtype:   dt,
		fortran: order == "F",
		raw:     raw,
		ready:   true,
	}, nil
}

// scalarFunc implements numpy.core.multiarray.scalar(dtype, bytes), which is
// how numpy scalars such as np.int64(1) are pickled.
type scalarFunc struct{}

func (scalarFunc) Call(args ...any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("scalar: expected 2 arguments, got %d", len(args))
	}
	dt, ok := args[0].(*dtype)
	if !ok {
		return nil, fmt.Errorf("scalar: unexpected dtype %T", args[0])
	}
	raw, err := rawData(args[1])
	if err != nil {
		return nil, fmt.Errorf("scalar: %w", err)
	}
	return &ndarray{shape: tensor.Shape{}, dtype: dt, raw: raw, ready: true}, nil
}

func rawData(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return pyobj.Bytes(v)
}

func tupleItems(v any) ([]any, bool) {
	switch x := v.(type) {
	case *types.Tuple:
		return *x, true
	case types.Tuple:
		return x, true
	default:
		return nil, false
	}
}
