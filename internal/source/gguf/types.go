// Package gguf decodes GGUF files into prototype mappings.
//
// GGUF (GGML Universal Format) stores typed metadata key-value pairs followed
// by tensors. Every tensor becomes a field named after the tensor and every
// metadata entry becomes a field named after its key, so class_names and
// defect_idx can be stored as metadata next to a prototypes tensor.
//
// Specification: https://github.com/ggerganov/ggml/blob/master/docs/gguf.md
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// Magic bytes for GGUF format.
const (
	MagicGGUFLE uint32 = 0x46554747 // "GGUF" little-endian.
	MagicGGUFBE uint32 = 0x47475546 // "GGUF" big-endian (reversed).
)

// Version constants.
const (
	Version1 uint32 = 1
	Version3 uint32 = 3 // Current version.
)

// DefaultAlignment is the default alignment for tensor data.
const DefaultAlignment = 32

// Parser limits.
const (
	maxStringLen = 1 << 20
	maxArrayLen  = 100_000_000
	maxDims      = 8
)

// ValueType represents the type of a metadata value.
type ValueType uint32

// Metadata value types as defined in GGUF specification.
const (
	ValueTypeUint8   ValueType = 0
	ValueTypeInt8    ValueType = 1
	ValueTypeUint16  ValueType = 2
	ValueTypeInt16   ValueType = 3
	ValueTypeUint32  ValueType = 4
	ValueTypeInt32   ValueType = 5
	ValueTypeFloat32 ValueType = 6
	ValueTypeBool    ValueType = 7
	ValueTypeString  ValueType = 8
	ValueTypeArray   ValueType = 9
	ValueTypeUint64  ValueType = 10
	ValueTypeInt64   ValueType = 11
	ValueTypeFloat64 ValueType = 12
)

// GGMLType represents the data type of tensor elements.
type GGMLType uint32

// GGML tensor types the decoder can read.
// Note: Names use underscores to match GGML specification exactly.
//
//nolint:revive // Underscores in names match GGML specification.
const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeI8   GGMLType = 24
	GGMLTypeI16  GGMLType = 25
	GGMLTypeI32  GGMLType = 26
	GGMLTypeI64  GGMLType = 27
	GGMLTypeF64  GGMLType = 28
	GGMLTypeBF16 GGMLType = 29
)

// blockTrait describes how elements of a type are packed.
type blockTrait struct {
	BlockSize int // Number of elements per block.
	TypeSize  int // Size in bytes per block.
}

var blockTraits = map[GGMLType]blockTrait{
	GGMLTypeF32:  {BlockSize: 1, TypeSize: 4},
	GGMLTypeF16:  {BlockSize: 1, TypeSize: 2},
	GGMLTypeQ4_0: {BlockSize: 32, TypeSize: 18},
	GGMLTypeQ8_0: {BlockSize: 32, TypeSize: 34},
	GGMLTypeI8:   {BlockSize: 1, TypeSize: 1},
	GGMLTypeI16:  {BlockSize: 1, TypeSize: 2},
	GGMLTypeI32:  {BlockSize: 1, TypeSize: 4},
	GGMLTypeI64:  {BlockSize: 1, TypeSize: 8},
	GGMLTypeF64:  {BlockSize: 1, TypeSize: 8},
	GGMLTypeBF16: {BlockSize: 1, TypeSize: 2},
}

var ggmlTypeNames = map[GGMLType]string{
	GGMLTypeF32:  "F32",
	GGMLTypeF16:  "F16",
	GGMLTypeQ4_0: "Q4_0",
	GGMLTypeQ8_0: "Q8_0",
	GGMLTypeI8:   "I8",
	GGMLTypeI16:  "I16",
	GGMLTypeI32:  "I32",
	GGMLTypeI64:  "I64",
	GGMLTypeF64:  "F64",
	GGMLTypeBF16: "BF16",
}

// String returns the string representation of the GGML type.
func (t GGMLType) String() string {
	if name, ok := ggmlTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// RowSize calculates the size in bytes for the given number of elements.
// Unsupported types report 0.
func (t GGMLType) RowSize(elements int) int {
	trait, ok := blockTraits[t]
	if !ok {
		return 0
	}
	numBlocks := (elements + trait.BlockSize - 1) / trait.BlockSize
	return numBlocks * trait.TypeSize
}

// Header represents the GGUF file header.
type Header struct {
	Magic           uint32
	Version         uint32
	TensorCount     uint64
	MetadataKVCount uint64
}

// TensorInfo contains metadata about a tensor in the file.
type TensorInfo struct {
	Name       string
	Dimensions []uint64 // Innermost dimension first.
	Type       GGMLType
	Offset     uint64 // Offset from start of tensor data section.
}

// NumElements returns the total number of elements in the tensor, or false
// when the product of the dimensions overflows.
func (t *TensorInfo) NumElements() (uint64, bool) {
	n := uint64(1)
	for _, d := range t.Dimensions {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// Shape returns the dimensions in row-major order, outermost first.
func (t *TensorInfo) Shape() []int {
	shape := make([]int, len(t.Dimensions))
	for i, d := range t.Dimensions {
		//nolint:gosec // G115: dimensions are bounded by the file size.
		shape[len(shape)-1-i] = int(d)
	}
	return shape
}

// Size returns the size in bytes of the tensor data.
func (t *TensorInfo) Size() (uint64, error) {
	trait, ok := blockTraits[t.Type]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t.Type)
	}
	n, ok := t.NumElements()
	if !ok {
		return 0, fmt.Errorf("%w: element count of %v overflows", ErrTensorBounds, t.Dimensions)
	}
	blocks := (n + uint64(trait.BlockSize) - 1) / uint64(trait.BlockSize)
	hi, size := bits.Mul64(blocks, uint64(trait.TypeSize))
	if hi != 0 {
		return 0, fmt.Errorf("%w: byte size of %v overflows", ErrTensorBounds, t.Dimensions)
	}
	return size, nil
}

// MetadataKV represents a key-value pair in the metadata, with the value
// already reduced to the source value set.
type MetadataKV struct {
	Key   string
	Value any
}

// File represents a parsed GGUF file.
type File struct {
	Header     Header
	Metadata   []MetadataKV // In file order.
	TensorInfo []TensorInfo
	Alignment  int
	ByteOrder  binary.ByteOrder

	// Calculated offsets.
	TensorDataOffset int64
}

// alignOffset calculates the aligned offset.
func alignOffset(offset int64, alignment int) int64 {
	if alignment <= 0 {
		alignment = DefaultAlignment
	}
	return offset + int64((alignment-int(offset%int64(alignment)))%alignment)
}

// readString reads a GGUF string (length-prefixed, NOT null-terminated).
func readString(r io.Reader, order binary.ByteOrder) (string, error) {
	var length uint64
	if err := binary.Read(r, order, &length); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if length > maxStringLen {
		return "", fmt.Errorf("string too long: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("read string data: %w", err)
	}
	return string(data), nil
}
