// Package safetensors decodes SafeTensors files.
//
// Every tensor in the file becomes a field of the decoded object. String
// values in the __metadata__ section become fields too, parsed as JSON when
// they hold JSON, so class names and the defect index can travel as
// metadata next to the prototype tensor:
//
//	{"__metadata__": {"class_names": "[\"failure\", \"success\"]", "defect_idx": "0"}}
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/segmentio/encoding/json"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/source/jsonsrc"
	"github.com/printguard/protoconv/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// MaxHeaderSize bounds the JSON header.
const MaxHeaderSize = 100 * 1024 * 1024

const metadataKey = "__metadata__"

// Errors returned while reading the file layout.
var (
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
	ErrBadOffsets     = errors.New("invalid tensor data offsets")
)

// DType represents supported SafeTensors data types.
type DType string

// Supported SafeTensors dtypes.
const (
	F16  DType = "F16"
	BF16 DType = "BF16"
	F32  DType = "F32"
	F64  DType = "F64"
	I8   DType = "I8"
	I16  DType = "I16"
	I32  DType = "I32"
	I64  DType = "I64"
	U8   DType = "U8"
	Bool DType = "BOOL"
)

// TensorInfo describes a tensor in SafeTensors format.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end]
}

// Header is the parsed JSON header.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits the header into metadata and tensor entries.
func (h *Header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[metadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == metadataKey {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

func (d DType) dataType() (tensor.DataType, error) {
	switch d {
	case F16:
		return tensor.Float16, nil
	case BF16:
		return tensor.BFloat16, nil
	case F32:
		return tensor.Float32, nil
	case F64:
		return tensor.Float64, nil
	case I8:
		return tensor.Int8, nil
	case I16:
		return tensor.Int16, nil
	case I32:
		return tensor.Int32, nil
	case I64:
		return tensor.Int64, nil
	case U8:
		return tensor.Uint8, nil
	case Bool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", d)
	}
}

// Decoder reads SafeTensors files.
type Decoder struct{}

// New creates a SafeTensors decoder.
func New() *Decoder {
	return &Decoder{}
}

// Format returns source.FormatSafeTensors.
func (d *Decoder) Format() source.Format {
	return source.FormatSafeTensors
}

// Decode reads every tensor and metadata entry of the file at path.
// Tensors come first in data-offset order, then metadata keys sorted by name.
func (d *Decoder) Decode(path string) (*source.Object, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for conversion
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	header, dataOffset, err := readHeader(file)
	if err != nil {
		return nil, err
	}
	dataSize := info.Size() - dataOffset

	names := make([]string, 0, len(header.Tensors))
	for name := range header.Tensors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return header.Tensors[names[i]].DataOffsets[0] < header.Tensors[names[j]].DataOffsets[0]
	})

	obj := source.NewObject()
	for _, name := range names {
		t, err := readTensor(file, dataOffset, dataSize, name, header.Tensors[name])
		if err != nil {
			return nil, err
		}
		obj.Set(name, t)
	}

	keys := make([]string, 0, len(header.Metadata))
	for k := range header.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, taken := obj.Get(k); taken {
			continue
		}
		obj.Set(k, metadataValue(header.Metadata[k]))
	}
	return obj, nil
}

func readHeader(r io.Reader) (*Header, int64, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, 0, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: header size is bounded by MaxHeaderSize.
	return &header, int64(8 + headerSize), nil
}

// readTensor reads one tensor. Its data must lie within the dataSize bytes
// that follow the header.
func readTensor(file *os.File, dataOffset, dataSize int64, name string, info TensorInfo) (*tensor.Tensor, error) {
	dtype, err := info.DType.dataType()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}

	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > dataSize {
		return nil, fmt.Errorf("%w: tensor %s: [%d, %d] outside %d data bytes", ErrBadOffsets, name, start, end, dataSize)
	}
	size := end - start
	if n, ok := elementCount(info.Shape, size); !ok || n*int64(dtype.Size()) != size {
		return nil, fmt.Errorf("%w: tensor %s: [%d, %d] for %s%v", ErrBadOffsets, name, start, end, dtype, info.Shape)
	}

	data := make([]byte, size)
	if _, err := file.ReadAt(data, dataOffset+start); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}

	values, err := tensor.DecodeBytes(data, dtype, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return tensor.New(shape, dtype, values)
}

// elementCount multiplies the dimensions of shape, giving up once the product
// exceeds limit.
func elementCount(shape []int, limit int64) (int64, bool) {
	for _, d := range shape {
		if d == 0 {
			return 0, true
		}
	}
	n := int64(1)
	for _, d := range shape {
		if d < 0 || n > limit/int64(d) {
			return 0, false
		}
		n *= int64(d)
	}
	return n, true
}

// metadataValue parses a metadata string as JSON, falling back to the string itself.
func metadataValue(s string) any {
	v, err := jsonsrc.ParseValue([]byte(s))
	if err != nil {
		return s
	}
	return v
}
