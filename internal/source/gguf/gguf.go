package gguf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

// Errors returned for tensors the decoder cannot read.
var (
	ErrUnsupportedType = errors.New("unsupported GGML tensor type")
	ErrTensorBounds    = errors.New("tensor data out of bounds")
)

// Decoder reads GGUF files.
type Decoder struct{}

// New creates a GGUF decoder.
func New() *Decoder {
	return &Decoder{}
}

// Format returns source.FormatGGUF.
func (d *Decoder) Format() source.Format {
	return source.FormatGGUF
}

// Decode reads every tensor and metadata entry of the file at path.
// Tensors come first in file order, then metadata in file order. A metadata
// key that repeats a tensor name is dropped.
func (d *Decoder) Decode(path string) (*source.Object, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for conversion
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() // Ignore close error on read-only file.
	}()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	file, err := Parse(f)
	if err != nil {
		return nil, err
	}

	obj := source.NewObject()
	for i := range file.TensorInfo {
		info := &file.TensorInfo[i]
		t, err := readTensor(f, stat.Size(), file, info)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", info.Name, err)
		}
		obj.Set(info.Name, t)
	}
	for _, kv := range file.Metadata {
		if _, taken := obj.Get(kv.Key); taken {
			continue
		}
		obj.Set(kv.Key, kv.Value)
	}
	return obj, nil
}

// readTensor reads one tensor, which must lie within the fileSize bytes of r.
func readTensor(r io.ReaderAt, fileSize int64, file *File, info *TensorInfo) (*tensor.Tensor, error) {
	size, err := info.Size()
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G115: fileSize and the data offset are non-negative.
	limit := uint64(fileSize - min(file.TensorDataOffset, fileSize))
	if info.Offset > limit || size > limit-info.Offset {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, data section holds %d",
			ErrTensorBounds, size, info.Offset, limit)
	}

	data := make([]byte, size)
	//nolint:gosec // G115: offset was checked against the file size.
	offset := file.TensorDataOffset + int64(info.Offset)
	if _, err := r.ReadAt(data, offset); err != nil {
		return nil, fmt.Errorf("read tensor data: %w", err)
	}

	shape := tensor.Shape(info.Shape())
	elements, _ := info.NumElements()
	//nolint:gosec // G115: element count is bounded by the bytes just read.
	n := int(elements)

	switch info.Type {
	case GGMLTypeQ4_0, GGMLTypeQ8_0:
		values, err := dequantize(data, info.Type, n, file.ByteOrder)
		if err != nil {
			return nil, err
		}
		return tensor.New(shape, tensor.Float32, values)
	default:
		dtype := dataType(info.Type)
		values, err := tensor.DecodeBytes(data, dtype, file.ByteOrder)
		if err != nil {
			return nil, err
		}
		return tensor.New(shape, dtype, values)
	}
}

// dataType maps the unquantized GGML types to tensor data types.
func dataType(t GGMLType) tensor.DataType {
	switch t {
	case GGMLTypeF16:
		return tensor.Float16
	case GGMLTypeBF16:
		return tensor.BFloat16
	case GGMLTypeF64:
		return tensor.Float64
	case GGMLTypeI8:
		return tensor.Int8
	case GGMLTypeI16:
		return tensor.Int16
	case GGMLTypeI32:
		return tensor.Int32
	case GGMLTypeI64:
		return tensor.Int64
	default:
		return tensor.Float32
	}
}
