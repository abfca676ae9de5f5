package gguf

import (
	"encoding/binary"
	"fmt"

	"github.com/printguard/protoconv/internal/tensor"
)

// dequantize expands block-quantized data into numElements float values.
func dequantize(data []byte, t GGMLType, numElements int, order binary.ByteOrder) ([]float64, error) {
	trait := blockTraits[t]
	if need := t.RowSize(numElements); len(data) < need {
		return nil, fmt.Errorf("insufficient data: need %d bytes, got %d", need, len(data))
	}

	out := make([]float64, 0, numElements+trait.BlockSize)
	for off := 0; len(out) < numElements; off += trait.TypeSize {
		block := data[off : off+trait.TypeSize]
		switch t {
		case GGMLTypeQ8_0:
			out = appendQ8_0(out, block, order)
		case GGMLTypeQ4_0:
			out = appendQ4_0(out, block, order)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
	}
	return out[:numElements], nil
}

// Q8_0: 32 elements per block.
// Structure: half d (2 bytes), int8_t qs[32] (32 bytes).
// Formula: x[i] = d * q[i].
//
//nolint:revive // Name follows the GGML type.
func appendQ8_0(out []float64, block []byte, order binary.ByteOrder) []float64 {
	d := tensor.Float16ToFloat32(order.Uint16(block[0:2]))
	for i := 0; i < 32; i++ {
		out = append(out, float64(d*float32(int8(block[2+i]))))
	}
	return out
}

// Q4_0: 32 elements per block, 4 bits per element.
// Structure: half d (2 bytes), uint8_t qs[16] (16 bytes).
// Formula: x[i] = d * (q[i] - 8). Low nibbles hold elements 0-15, high
// nibbles elements 16-31.
//
//nolint:revive // Name follows the GGML type.
func appendQ4_0(out []float64, block []byte, order binary.ByteOrder) []float64 {
	d := tensor.Float16ToFloat32(order.Uint16(block[0:2]))
	qs := block[2:18]
	for i := 0; i < 16; i++ {
		out = append(out, float64(d*(float32(qs[i]&0x0F)-8)))
	}
	for i := 0; i < 16; i++ {
		out = append(out, float64(d*(float32(qs[i]>>4)-8)))
	}
	return out
}
