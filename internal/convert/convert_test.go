package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printguard/protoconv/internal/logging"
	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

type stubDecoder struct {
	obj *source.Object
	err error
}

func (d stubDecoder) Format() source.Format { return source.FormatPickle }

func (d stubDecoder) Decode(string) (*source.Object, error) { return d.obj, d.err }

func newTestConverter(dec source.Decoder) *Converter {
	return New(Options{Decoder: dec, Logger: logging.Discard()})
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustTensor(t *testing.T, shape tensor.Shape, dtype tensor.DataType, data []float64) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.New(shape, dtype, data)
	require.NoError(t, err)
	return tt
}

func testPaths(dir string) Paths {
	return Paths{
		Source:    filepath.Join(dir, "model", "prototypes", "cache", "prototypes.json"),
		Primary:   filepath.Join(dir, "scripts", "prototypes.json"),
		Secondary: filepath.Join(dir, "model", "prototypes", "cache", "out", "prototypes.json"),
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	p := testPaths(dir)
	writeFile(t, p.Source, `{"prototypes": [[1.0, 2.0], [3.0, 4.0]], "class_names": ["bad", "good"], "defect_idx": 1}`)

	c := New(Options{Logger: logging.Discard()})
	report, err := c.Run(p)
	require.NoError(t, err)

	want := `{
  "prototypes": [
    [
      1.0,
      2.0
    ],
    [
      3.0,
      4.0
    ]
  ],
  "class_names": [
    "bad",
    "good"
  ],
  "defect_idx": 1
}`
	primary, err := os.ReadFile(p.Primary)
	require.NoError(t, err)
	secondary, err := os.ReadFile(p.Secondary)
	require.NoError(t, err)
	assert.Equal(t, want, string(primary))
	assert.Equal(t, primary, secondary)

	assert.Equal(t, source.FormatJSON, report.Format)
	assert.Equal(t, []string{"class_names", "defect_idx", "prototypes"}, report.Keys)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 2, report.Cols)
	assert.Equal(t, []string{"bad", "good"}, report.ClassNames)
	assert.Equal(t, int64(1), report.DefectIdx)
	require.Len(t, report.Outputs, 2)
	sum := sha256.Sum256([]byte(want))
	digest := hex.EncodeToString(sum[:])
	assert.Equal(t, Output{Path: p.Primary, Size: int64(len(want)), SHA256: digest}, report.Outputs[0])
	assert.Equal(t, Output{Path: p.Secondary, Size: int64(len(want)), SHA256: digest}, report.Outputs[1])
}

func TestRunEmptyMapping(t *testing.T) {
	dir := t.TempDir()
	p := testPaths(dir)
	writeFile(t, p.Source, `{}`)

	report, err := New(Options{Logger: logging.Discard()}).Run(p)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Rows)
	assert.Equal(t, 0, report.Cols)

	want := `{
  "prototypes": [],
  "class_names": [
    "failure",
    "success"
  ],
  "defect_idx": 0
}`
	for _, path := range []string{p.Primary, p.Secondary} {
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), path)
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	p := testPaths(dir)

	_, err := New(Options{Logger: logging.Discard()}).Run(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.ErrorIs(t, err, os.ErrNotExist)

	var convErr *Error
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "run", convErr.Op)
	assert.Equal(t, p.Source, convErr.Path)

	assert.NoFileExists(t, p.Primary)
	assert.NoFileExists(t, p.Secondary)
}

func TestRunNoCopy(t *testing.T) {
	dir := t.TempDir()
	p := testPaths(dir)
	p.Secondary = ""
	writeFile(t, p.Source, `{"prototypes": [[0.5]]}`)

	report, err := New(Options{Logger: logging.Discard()}).Run(p)
	require.NoError(t, err)
	require.Len(t, report.Outputs, 1)
	assert.FileExists(t, p.Primary)
	assert.NoDirExists(t, filepath.Join(dir, "model", "prototypes", "cache", "out"))
}

func TestRunDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	p := testPaths(dir)
	writeFile(t, p.Source, `{"prototypes": [`)

	_, err := New(Options{Logger: logging.Discard()}).Run(p)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NoFileExists(t, p.Primary)
}

func TestConvertTensor(t *testing.T) {
	obj := source.NewObject()
	obj.Set(FieldPrototypes, mustTensor(t, tensor.Shape{2, 3}, tensor.Float32, []float64{1, 2, 3, 4, 5, 6}))
	obj.Set(FieldClassNames, []any{"failure", "success"})
	obj.Set(FieldDefectIdx, mustTensor(t, tensor.Shape{}, tensor.Int64, []float64{0}))

	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	res, err := newTestConverter(stubDecoder{obj: obj}).Convert(src)
	require.NoError(t, err)

	want := Result{
		Prototypes: [][]float64{{1, 2, 3}, {4, 5, 6}},
		ClassNames: []string{"failure", "success"},
		DefectIdx:  0,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Convert() mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertSequences(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000", 10)

	obj := source.NewObject()
	obj.Set(FieldPrototypes, []any{
		[]any{int64(1), 2.5, huge},
		mustTensor(t, tensor.Shape{3}, tensor.Float64, []float64{0.25, 0, -1}),
		[]any{true, false, mustTensor(t, tensor.Shape{}, tensor.Float32, []float64{7})},
	})
	obj.Set(FieldDefectIdx, 1.0)

	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	res, err := newTestConverter(stubDecoder{obj: obj}).Convert(src)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2.5, 1e20}, {0.25, 0, -1}, {1, 0, 7}}, res.Prototypes)
	assert.Equal(t, DefaultClassNames, res.ClassNames)
	assert.Equal(t, int64(1), res.DefectIdx)
}

func TestConvertEmptyVector(t *testing.T) {
	obj := source.NewObject()
	obj.Set(FieldPrototypes, mustTensor(t, tensor.Shape{0}, tensor.Float32, nil))
	obj.Set(FieldClassNames, nil)

	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	res, err := newTestConverter(stubDecoder{obj: obj}).Convert(src)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{}, res.Prototypes)
	assert.Equal(t, DefaultClassNames, res.ClassNames)
}

func TestConvertRagged(t *testing.T) {
	obj := source.NewObject()
	obj.Set(FieldPrototypes, []any{[]any{1.0, 2.0}, []any{3.0}})

	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	res, err := newTestConverter(stubDecoder{obj: obj}).Convert(src)
	require.NoError(t, err)
	assert.True(t, res.Ragged())

	rows, cols := res.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
}

func TestConvertErrors(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000", 10)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"prototypes string", FieldPrototypes, "abc"},
		{"prototypes mapping", FieldPrototypes, source.NewObject()},
		{"prototypes rank 3", FieldPrototypes, mustTensor(t, tensor.Shape{1, 1, 2}, tensor.Float32, []float64{1, 2})},
		{"prototypes rank 1", FieldPrototypes, mustTensor(t, tensor.Shape{2}, tensor.Float32, []float64{1, 2})},
		{"row of strings", FieldPrototypes, []any{[]any{"a"}}},
		{"row scalar", FieldPrototypes, []any{1.0}},
		{"opaque value", FieldPrototypes, []any{[]any{source.Opaque{Type: "x.Y"}}}},
		{"class name number", FieldClassNames, []any{"a", int64(1)}},
		{"class names string", FieldClassNames, "failure"},
		{"defect index fraction", FieldDefectIdx, 1.5},
		{"defect index string", FieldDefectIdx, "1"},
		{"defect index overflow", FieldDefectIdx, huge},
		{"defect index vector", FieldDefectIdx, mustTensor(t, tensor.Shape{2}, tensor.Int64, []float64{0, 1})},
	}

	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := source.NewObject()
			obj.Set(tt.field, tt.value)

			_, err := newTestConverter(stubDecoder{obj: obj}).Convert(src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConversion)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConvertDecoderError(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.pkl"), "stub")
	cause := errors.New("truncated stream")

	_, err := newTestConverter(stubDecoder{err: cause}).Convert(src)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "convert "+src+": cannot decode source: truncated stream", err.Error())
}

func TestConvertUnknownFormat(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "prototypes.dat"), "plain text")

	_, err := New(Options{Logger: logging.Discard()}).Convert(src)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, source.ErrUnknownFormat)
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	obj := source.NewObject()
	obj.Set(FieldPrototypes, mustTensor(t, tensor.Shape{2, 2}, tensor.Float32,
		[]float64{float64(float32(0.1)), -1e-05, 3, 1e16}))
	obj.Set(FieldClassNames, []any{"défaut", "ok"})
	obj.Set(FieldDefectIdx, int64(0))

	src := writeFile(t, filepath.Join(dir, "prototypes.pkl"), "stub")
	c := newTestConverter(stubDecoder{obj: obj})
	want, err := c.Convert(src)
	require.NoError(t, err)

	out := filepath.Join(dir, "out", "prototypes.json")
	require.NoError(t, c.WriteJSON(want, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var got Result
	require.NoError(t, got.UnmarshalJSON(data))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRunNonFinite(t *testing.T) {
	p := testPaths(t.TempDir())
	writeFile(t, p.Source, "stub")

	obj := source.NewObject()
	obj.Set("prototypes", mustTensor(t, tensor.Shape{1, 3}, tensor.Float32, []float64{math.NaN(), math.Inf(1), math.Inf(-1)}))

	_, err := newTestConverter(stubDecoder{obj: obj}).Run(p)
	require.NoError(t, err)

	want := `{
  "prototypes": [
    [
      NaN,
      Infinity,
      -Infinity
    ]
  ],
  "class_names": [
    "failure",
    "success"
  ],
  "defect_idx": 0
}`
	primary, err := os.ReadFile(p.Primary)
	require.NoError(t, err)
	assert.Equal(t, want, string(primary))
	secondary, err := os.ReadFile(p.Secondary)
	require.NoError(t, err)
	assert.Equal(t, primary, secondary)
}

func TestWriteJSONUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := writeFile(t, filepath.Join(dir, "file"), "x")

	err := newTestConverter(nil).WriteJSON(Result{}, filepath.Join(blocker, "prototypes.json"))
	assert.ErrorIs(t, err, ErrWrite)
}

func TestResultMarshalJSON(t *testing.T) {
	data, err := Result{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"prototypes\": [],\n  \"class_names\": [],\n  \"defect_idx\": 0\n}", string(data))
}

func TestErrorMessage(t *testing.T) {
	err := newError("write", "/tmp/out.json", ErrWrite, nil)
	assert.Equal(t, "write /tmp/out.json: cannot write output", err.Error())
	assert.ErrorIs(t, err, ErrWrite)
	assert.NotErrorIs(t, err, ErrDecode)
}
