// Package source defines the decoded form of a prototype file and the Decoder
// interface that format-specific readers implement.
//
// Decoders reduce whatever their format stores to a small closed set of Go values:
//
//	nil, bool, int64, *big.Int, float64, string,
//	[]any, *Object, *tensor.Tensor, Opaque
//
// The converter dispatches on exactly these types.
package source

import (
	"fmt"
	"math/big"

	"github.com/printguard/protoconv/internal/tensor"
)

// Object is an insertion-ordered mapping with string keys.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores v under key, keeping the position of an existing key.
func (o *Object) Set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// Opaque stands in for a decoded value the converter has no use for,
// such as a Python object of an unknown class. It only fails a conversion
// if a field the converter reads holds one.
type Opaque struct {
	Type string
}

// String implements fmt.Stringer.
func (o Opaque) String() string {
	return "<" + o.Type + ">"
}

// Kind describes a decoded value for diagnostics.
func Kind(v any) string {
	switch x := v.(type) {
	case nil:
		return "none"
	case bool:
		return "bool"
	case int64, *big.Int:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return fmt.Sprintf("list[%d]", len(x))
	case *Object:
		return fmt.Sprintf("mapping[%d]", x.Len())
	case *tensor.Tensor:
		return "tensor " + x.String()
	case Opaque:
		return x.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}
