package torch

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

// tensorDictPickle is the data.pkl of torch.save({"prototypes": t, "defect_idx": 1})
// where t is a 2x2 float32 tensor whose stride (1, 2) makes it the transpose
// of its storage.
func tensorDictPickle() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x80, 0x02, '}', '('})
	str := func(s string) {
		b.WriteByte('X')
		_ = binary.Write(&b, binary.LittleEndian, uint32(len(s)))
		b.WriteString(s)
	}

	str("prototypes")
	b.WriteString("ctorch._utils\n_rebuild_tensor_v2\n")
	b.WriteByte('(')
	{
		b.WriteByte('(')
		str("storage")
		b.WriteString("ctorch\nFloatStorage\n")
		str("0")
		str("cpu")
		b.Write([]byte{'K', 4})
		b.WriteByte('t')
		b.WriteByte('Q') // BINPERSID
	}
	b.Write([]byte{'K', 0})                     // storage offset
	b.Write([]byte{'K', 2, 'K', 2, 0x86})       // size
	b.Write([]byte{'K', 1, 'K', 2, 0x86})       // stride
	b.WriteByte(0x89)                           // requires_grad
	b.WriteString("ccollections\nOrderedDict\n") // backward hooks
	b.Write([]byte{')', 'R'})
	b.Write([]byte{'t', 'R'})

	str("defect_idx")
	b.Write([]byte{'K', 1})
	b.Write([]byte{'u', '.'})
	return b.Bytes()
}

func writeArchive(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range []string{"archive/data.pkl", "archive/data/0", "archive/version"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		// torch.save stores entries uncompressed.
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestDecodeZipArchive(t *testing.T) {
	storage := make([]byte, 16)
	for i, v := range []float32{1, 3, 2, 4} {
		binary.LittleEndian.PutUint32(storage[i*4:], math.Float32bits(v))
	}

	path := filepath.Join(t.TempDir(), "prototypes.pt")
	writeArchive(t, path, map[string][]byte{
		"archive/data.pkl": tensorDictPickle(),
		"archive/data/0":   storage,
		"archive/version":  []byte("3\n"),
	})

	obj, err := New().Decode(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"prototypes", "defect_idx"}, obj.Keys())

	protos, _ := obj.Get("prototypes")
	x, ok := protos.(*tensor.Tensor)
	require.True(t, ok, "got %s", source.Kind(protos))
	assert.Equal(t, tensor.Float32, x.DType())

	rows, err := x.Rows()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, rows)

	idx, _ := obj.Get("defect_idx")
	assert.Equal(t, int64(1), idx)
}

func TestDecodeNotTorch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prototypes.pt")
	require.NoError(t, os.WriteFile(path, []byte("not a torch file"), 0o644))

	_, err := New().Decode(path)
	assert.Error(t, err)
}
