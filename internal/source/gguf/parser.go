package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
)

// Parse reads the header, metadata and tensor table of a GGUF stream.
func Parse(r io.ReadSeeker) (*File, error) {
	p := &parser{
		r:     r,
		order: binary.LittleEndian, // Default to little-endian
	}
	return p.parse()
}

type parser struct {
	r     io.ReadSeeker
	order binary.ByteOrder
}

func (p *parser) parse() (*File, error) {
	file := &File{Alignment: DefaultAlignment}

	if err := p.parseHeader(&file.Header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	file.ByteOrder = p.order

	for i := uint64(0); i < file.Header.MetadataKVCount; i++ {
		kv, err := p.parseMetadataKV()
		if err != nil {
			return nil, fmt.Errorf("parse metadata kv %d: %w", i, err)
		}
		file.Metadata = append(file.Metadata, kv)

		if kv.Key == "general.alignment" {
			if align, ok := kv.Value.(int64); ok && align > 0 {
				file.Alignment = int(align)
			}
		}
	}

	if file.Header.TensorCount > maxArrayLen {
		return nil, fmt.Errorf("too many tensors: %d", file.Header.TensorCount)
	}
	file.TensorInfo = make([]TensorInfo, file.Header.TensorCount)
	for i := range file.TensorInfo {
		if err := p.parseTensorInfo(&file.TensorInfo[i]); err != nil {
			return nil, fmt.Errorf("parse tensor info %d: %w", i, err)
		}
	}

	pos, err := p.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	file.TensorDataOffset = alignOffset(pos, file.Alignment)

	return file, nil
}

func (p *parser) parseHeader(h *Header) error {
	if err := binary.Read(p.r, p.order, &h.Magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}

	// Validate magic and detect byte order
	switch h.Magic {
	case MagicGGUFLE:
		p.order = binary.LittleEndian
	case MagicGGUFBE:
		p.order = binary.BigEndian
	default:
		return fmt.Errorf("invalid magic: 0x%08X (expected GGUF)", h.Magic)
	}

	if err := binary.Read(p.r, p.order, &h.Version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if h.Version < Version1 || h.Version > Version3 {
		return fmt.Errorf("unsupported version: %d (supported: 1-3)", h.Version)
	}

	if err := binary.Read(p.r, p.order, &h.TensorCount); err != nil {
		return fmt.Errorf("read tensor count: %w", err)
	}
	if err := binary.Read(p.r, p.order, &h.MetadataKVCount); err != nil {
		return fmt.Errorf("read metadata kv count: %w", err)
	}
	return nil
}

func (p *parser) parseMetadataKV() (MetadataKV, error) {
	key, err := readString(p.r, p.order)
	if err != nil {
		return MetadataKV{}, fmt.Errorf("read key: %w", err)
	}

	var valueType uint32
	if err := binary.Read(p.r, p.order, &valueType); err != nil {
		return MetadataKV{}, fmt.Errorf("read value type: %w", err)
	}

	value, err := p.parseValue(ValueType(valueType))
	if err != nil {
		return MetadataKV{}, fmt.Errorf("read value of %s: %w", key, err)
	}
	return MetadataKV{Key: key, Value: value}, nil
}

// parseValue reads a metadata value. Integers widen to int64 (uint64 values
// above MaxInt64 become *big.Int), floats to float64 and arrays to []any.
func (p *parser) parseValue(t ValueType) (any, error) {
	switch t {
	case ValueTypeBool:
		var v uint8
		if err := binary.Read(p.r, p.order, &v); err != nil {
			return nil, err
		}
		return v != 0, nil

	case ValueTypeString:
		return readString(p.r, p.order)

	case ValueTypeArray:
		return p.parseArray()

	case ValueTypeUint8:
		var v uint8
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeInt8:
		var v int8
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeUint16:
		var v uint16
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeInt16:
		var v int16
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeUint32:
		var v uint32
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeInt32:
		var v int32
		err := binary.Read(p.r, p.order, &v)
		return int64(v), err

	case ValueTypeUint64:
		var v uint64
		if err := binary.Read(p.r, p.order, &v); err != nil {
			return nil, err
		}
		if v > 1<<63-1 {
			return new(big.Int).SetUint64(v), nil
		}
		return int64(v), nil

	case ValueTypeInt64:
		var v int64
		err := binary.Read(p.r, p.order, &v)
		return v, err

	case ValueTypeFloat32:
		var v float32
		err := binary.Read(p.r, p.order, &v)
		return float64(v), err

	case ValueTypeFloat64:
		var v float64
		err := binary.Read(p.r, p.order, &v)
		return v, err

	default:
		return nil, fmt.Errorf("unknown value type: %d", t)
	}
}

func (p *parser) parseArray() (any, error) {
	var elemType uint32
	if err := binary.Read(p.r, p.order, &elemType); err != nil {
		return nil, fmt.Errorf("read array element type: %w", err)
	}

	var length uint64
	if err := binary.Read(p.r, p.order, &length); err != nil {
		return nil, fmt.Errorf("read array length: %w", err)
	}
	if length > maxArrayLen {
		return nil, fmt.Errorf("array too large: %d elements", length)
	}

	arr := make([]any, length)
	for i := range arr {
		v, err := p.parseValue(ValueType(elemType))
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		arr[i] = v
	}
	return arr, nil
}

func (p *parser) parseTensorInfo(t *TensorInfo) error {
	name, err := readString(p.r, p.order)
	if err != nil {
		return fmt.Errorf("read tensor name: %w", err)
	}
	t.Name = name

	var nDims uint32
	if err := binary.Read(p.r, p.order, &nDims); err != nil {
		return fmt.Errorf("read ndims: %w", err)
	}
	if nDims > maxDims {
		return fmt.Errorf("too many dimensions: %d", nDims)
	}

	t.Dimensions = make([]uint64, nDims)
	for i := range t.Dimensions {
		if err := binary.Read(p.r, p.order, &t.Dimensions[i]); err != nil {
			return fmt.Errorf("read dimension %d: %w", i, err)
		}
	}

	var ggmlType uint32
	if err := binary.Read(p.r, p.order, &ggmlType); err != nil {
		return fmt.Errorf("read type: %w", err)
	}
	t.Type = GGMLType(ggmlType)

	if err := binary.Read(p.r, p.order, &t.Offset); err != nil {
		return fmt.Errorf("read offset: %w", err)
	}
	return nil
}
