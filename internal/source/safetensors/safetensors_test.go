package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printguard/protoconv/internal/tensor"
)

// createTestFile writes a SafeTensors file holding a 2x3 F32 "prototypes"
// tensor, a scalar I64 "step" tensor and the given metadata.
func createTestFile(t *testing.T, path string, metadata map[string]string) {
	t.Helper()

	headerMap := map[string]interface{}{
		"prototypes": TensorInfo{
			DType:       F32,
			Shape:       []int{2, 3},
			DataOffsets: [2]int64{0, 24}, // 2*3*4 = 24 bytes
		},
		"step": TensorInfo{
			DType:       I64,
			Shape:       []int{},
			DataOffsets: [2]int64{24, 32},
		},
	}
	if metadata != nil {
		headerMap["__metadata__"] = metadata
	}

	headerJSON, err := json.Marshal(headerMap)
	require.NoError(t, err)

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	require.NoError(t, binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))))
	_, err = file.Write(headerJSON)
	require.NoError(t, err)

	for _, v := range []float32{1, 2, 3, 4, 5, 6} {
		require.NoError(t, binary.Write(file, binary.LittleEndian, math.Float32bits(v)))
	}
	require.NoError(t, binary.Write(file, binary.LittleEndian, int64(1200)))
}

func TestDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prototypes.safetensors")
	createTestFile(t, path, map[string]string{
		"format":      "pt",
		"class_names": `["failure", "success"]`,
		"defect_idx":  "0",
	})

	obj, err := New().Decode(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"prototypes", "step", "class_names", "defect_idx", "format"}, obj.Keys())

	protos, _ := obj.Get("prototypes")
	x, ok := protos.(*tensor.Tensor)
	require.True(t, ok)
	rows, err := x.Rows()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, rows)

	step, _ := obj.Get("step")
	v, err := step.(*tensor.Tensor).Scalar()
	require.NoError(t, err)
	assert.Equal(t, 1200.0, v)

	names, _ := obj.Get("class_names")
	assert.Equal(t, []any{"failure", "success"}, names)

	idx, _ := obj.Get("defect_idx")
	assert.Equal(t, int64(0), idx)

	format, _ := obj.Get("format")
	assert.Equal(t, "pt", format)
}

func TestDecodeWithoutMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prototypes.safetensors")
	createTestFile(t, path, nil)

	obj, err := New().Decode(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"prototypes", "step"}, obj.Keys())
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("header too large", func(t *testing.T) {
		path := filepath.Join(dir, "huge.safetensors")
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, MaxHeaderSize+1)
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		_, err := New().Decode(path)
		assert.ErrorIs(t, err, ErrHeaderTooLarge)
	})

	t.Run("offsets do not match shape", func(t *testing.T) {
		path := filepath.Join(dir, "bad.safetensors")
		header := []byte(`{"w":{"dtype":"F32","shape":[2,2],"data_offsets":[0,8]}}`)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(len(header)))
		buf = append(buf, header...)
		buf = append(buf, make([]byte, 8)...)
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		_, err := New().Decode(path)
		assert.ErrorIs(t, err, ErrBadOffsets)
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		path := filepath.Join(dir, "c64.safetensors")
		header := []byte(`{"w":{"dtype":"C64","shape":[1],"data_offsets":[0,8]}}`)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(len(header)))
		buf = append(buf, header...)
		buf = append(buf, make([]byte, 8)...)
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		_, err := New().Decode(path)
		assert.Error(t, err)
	})

	t.Run("truncated data", func(t *testing.T) {
		path := filepath.Join(dir, "short.safetensors")
		header := []byte(`{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(len(header)))
		buf = append(buf, header...)
		buf = append(buf, make([]byte, 4)...)
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		_, err := New().Decode(path)
		assert.ErrorIs(t, err, ErrBadOffsets)
	})

	for _, tt := range []struct {
		name   string
		header string
	}{
		{"offsets past end of file", `{"w":{"dtype":"F32","shape":[262144,262144],"data_offsets":[0,274877906944]}}`},
		{"shape overflows", `{"w":{"dtype":"F32","shape":[1099511627776,1099511627776],"data_offsets":[0,8]}}`},
		{"negative dimension", `{"w":{"dtype":"F32","shape":[-2,-1],"data_offsets":[0,8]}}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "oversized.safetensors")
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(len(tt.header)))
			buf = append(buf, tt.header...)
			buf = append(buf, make([]byte, 8)...)
			require.NoError(t, os.WriteFile(path, buf, 0o644))

			_, err := New().Decode(path)
			assert.Error(t, err)
		})
	}
}

func TestElementCount(t *testing.T) {
	n, ok := elementCount([]int{2, 3}, 6)
	assert.True(t, ok)
	assert.Equal(t, int64(6), n)

	n, ok = elementCount([]int{}, 1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok = elementCount([]int{1 << 40, 0}, 0)
	assert.True(t, ok)
	assert.Zero(t, n)

	_, ok = elementCount([]int{1 << 40, 1 << 40}, 1<<62)
	assert.False(t, ok)
}
