// Package jsonsrc decodes prototype files that were already converted to
// JSON upstream.
package jsonsrc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/printguard/protoconv/internal/source"
)

// Decoder reads JSON documents whose top level is an object.
type Decoder struct{}

// New creates a JSON decoder.
func New() *Decoder {
	return &Decoder{}
}

// Format returns source.FormatJSON.
func (d *Decoder) Format() source.Format {
	return source.FormatJSON
}

// Decode parses the file at path.
func (d *Decoder) Decode(path string) (*source.Object, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for conversion
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*source.Object)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", source.ErrNotMapping, source.Kind(v))
	}
	return obj, nil
}

// ParseValue parses a single JSON document into the source value set.
// Object keys are sorted since encoding/json maps do not keep order.
func ParseValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse JSON: trailing data after document")
	}
	return convert(raw)
}

func convert(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		return number(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			c, err := convert(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := source.NewObject()
		for _, k := range keys {
			c, err := convert(x[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, c)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value %T", v)
	}
}

// number keeps integers exact: int64 when they fit, *big.Int otherwise.
func number(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b, nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return f, nil
}
