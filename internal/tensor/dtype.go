// Package tensor provides the dense numeric array used to carry prototype tables
// between source decoders and the converter.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType represents the element type a tensor was stored with.
// Values are always held as float64 in memory; the DataType records the origin.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float64
	Float16
	BFloat16
	Int8
	Int16
	Int32
	Int64
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16, BFloat16, Int16:
		return 2
	case Int8, Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// DecodeBytes converts packed element bytes into float64 values.
// Int64 values beyond 2^53 lose precision.
func DecodeBytes(raw []byte, dtype DataType, order binary.ByteOrder) ([]float64, error) {
	size := dtype.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s size %d", ErrDataSize, len(raw), dtype, size)
	}
	n := len(raw) / size
	out := make([]float64, n)

	switch dtype {
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
	case Float64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	case Float16:
		for i := 0; i < n; i++ {
			out[i] = float64(Float16ToFloat32(order.Uint16(raw[i*2:])))
		}
	case BFloat16:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(uint32(order.Uint16(raw[i*2:])) << 16))
		}
	case Int8:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(raw[i]))
		}
	case Int16:
		for i := 0; i < n; i++ {
			//nolint:gosec // G115: Uint16->int16 reinterprets signed data.
			out[i] = float64(int16(order.Uint16(raw[i*2:])))
		}
	case Int32:
		for i := 0; i < n; i++ {
			//nolint:gosec // G115: Uint32->int32 reinterprets signed data.
			out[i] = float64(int32(order.Uint32(raw[i*4:])))
		}
	case Int64:
		for i := 0; i < n; i++ {
			//nolint:gosec // G115: Uint64->int64 reinterprets signed data.
			out[i] = float64(int64(order.Uint64(raw[i*8:])))
		}
	case Uint8:
		for i := 0; i < n; i++ {
			out[i] = float64(raw[i])
		}
	case Bool:
		for i := 0; i < n; i++ {
			if raw[i] != 0 {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %s", dtype)
	}

	return out, nil
}

// Float16ToFloat32 converts an IEEE 754 half precision value to float32.
func Float16ToFloat32(h uint16) float32 {
	sign := (h >> 15) & 0x1
	exp := (h >> 10) & 0x1F
	mant := h & 0x3FF

	var result uint32

	switch exp {
	case 0:
		if mant == 0 {
			result = uint32(sign) << 31
		} else {
			// Subnormal: shift until the implicit bit appears.
			e := int32(1)
			for (mant & 0x400) == 0 {
				mant <<= 1
				e--
			}
			mant &= 0x3FF
			//nolint:gosec // G115: biased exponent is always positive here.
			result = (uint32(sign) << 31) | (uint32(e+127-15) << 23) | (uint32(mant) << 13)
		}
	case 0x1F:
		result = (uint32(sign) << 31) | 0x7F800000 | (uint32(mant) << 13)
	default:
		result = (uint32(sign) << 31) | (uint32(exp+127-15) << 23) | (uint32(mant) << 13)
	}

	return math.Float32frombits(result)
}
