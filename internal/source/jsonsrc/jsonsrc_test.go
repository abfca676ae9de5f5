package jsonsrc

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printguard/protoconv/internal/source"
)

func TestParseValue(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	tests := []struct {
		name string
		in   string
		want any
	}{
		{"int", `1`, int64(1)},
		{"negative int", `-7`, int64(-7)},
		{"big int", `123456789012345678901234567890`, huge},
		{"float", `1.0`, 1.0},
		{"exponent", `1e-05`, 1e-05},
		{"string", `"bad"`, "bad"},
		{"null", `null`, nil},
		{"nested list", `[[1.5, 2], []]`, []any{[]any{1.5, int64(2)}, []any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValueObject(t *testing.T) {
	got, err := ParseValue([]byte(`{"z": 1, "a": {"b": true}}`))
	require.NoError(t, err)

	obj, ok := got.(*source.Object)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "z"}, obj.Keys())

	inner, _ := obj.Get("a")
	b, _ := inner.(*source.Object).Get("b")
	assert.Equal(t, true, b)
}

func TestParseValueErrors(t *testing.T) {
	for _, in := range []string{``, `{`, `{} {}`, `pt`} {
		_, err := ParseValue([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "prototypes.json")
	doc := `{"prototypes": [[1.0, 2.0], [3.0, 4.0]], "class_names": ["bad", "good"], "defect_idx": 1}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	obj, err := New().Decode(path)
	require.NoError(t, err)

	protos, _ := obj.Get("prototypes")
	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, protos)
	idx, _ := obj.Get("defect_idx")
	assert.Equal(t, int64(1), idx)

	listPath := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(listPath, []byte(`[1, 2]`), 0o644))
	_, err = New().Decode(listPath)
	assert.ErrorIs(t, err, source.ErrNotMapping)
}
