// Package pyobj reduces values produced by the gopickle unpickler to the
// closed value set of package source.
package pyobj

import (
	"container/list"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

// ToObject converts the top-level unpickled value, which must be a dict or
// OrderedDict with string keys.
func ToObject(v any) (*source.Object, error) {
	switch x := v.(type) {
	case *types.Dict:
		return dictToObject(x)
	case *types.OrderedDict:
		return orderedToObject(x)
	default:
		return nil, fmt.Errorf("%w: got %T", source.ErrNotMapping, v)
	}
}

func dictToObject(dict *types.Dict) (*source.Object, error) {
	obj := source.NewObject()
	for _, k := range dict.Keys() {
		key, ok := keyString(k)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T)", source.ErrKeyType, k, k)
		}
		raw, _ := dict.Get(k)
		obj.Set(key, Value(raw))
	}
	return obj, nil
}

// orderedToObject walks an OrderedDict in insertion order. gopickle keeps
// that order in a container/list of entries with Key and Value fields.
func orderedToObject(d *types.OrderedDict) (*source.Object, error) {
	field := reflect.ValueOf(d).Elem().FieldByName("List")
	if !field.IsValid() {
		return nil, fmt.Errorf("%w: unsupported OrderedDict layout", source.ErrNotMapping)
	}
	entries, ok := field.Interface().(*list.List)
	if !ok || entries == nil {
		return nil, fmt.Errorf("%w: unsupported OrderedDict layout", source.ErrNotMapping)
	}

	obj := source.NewObject()
	for e := entries.Front(); e != nil; e = e.Next() {
		entry := reflect.Indirect(reflect.ValueOf(e.Value))
		if entry.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: unsupported OrderedDict entry %T", source.ErrNotMapping, e.Value)
		}
		k, v := entry.FieldByName("Key"), entry.FieldByName("Value")
		if !k.IsValid() || !v.IsValid() {
			return nil, fmt.Errorf("%w: unsupported OrderedDict entry %T", source.ErrNotMapping, e.Value)
		}
		key, ok := keyString(k.Interface())
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T)", source.ErrKeyType, k.Interface(), k.Interface())
		}
		obj.Set(key, Value(v.Interface()))
	}
	return obj, nil
}

func keyString(k any) (string, bool) {
	switch x := k.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return "", false
	}
}

// Array is implemented by reconstructed array objects (numpy arrays and
// scalars) that materialize into a tensor once unpickling has finished.
type Array interface {
	Tensor() (*tensor.Tensor, error)
}

// Named is implemented by placeholders for Python classes that are not modeled.
type Named interface {
	PyName() string
}

// Value converts a single unpickled value. Anything outside the supported
// set becomes a source.Opaque naming its type.
func Value(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, *source.Object, *tensor.Tensor, source.Opaque:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x
	case *types.Dict:
		obj, err := dictToObject(x)
		if err != nil {
			return source.Opaque{Type: "dict with non-string keys"}
		}
		return obj
	case *types.OrderedDict:
		obj, err := orderedToObject(x)
		if err != nil {
			return source.Opaque{Type: "collections.OrderedDict"}
		}
		return obj
	case *types.List:
		return values(*x)
	case types.List:
		return values(x)
	case *types.Tuple:
		return values(*x)
	case types.Tuple:
		return values(x)
	case *pytorch.Tensor:
		t, err := FromTorch(x)
		if err != nil {
			return source.Opaque{Type: "torch.Tensor: " + err.Error()}
		}
		return t
	case Array:
		t, err := x.Tensor()
		if err != nil {
			return source.Opaque{Type: fmt.Sprintf("%T: %v", v, err)}
		}
		return t
	case Named:
		return source.Opaque{Type: x.PyName()}
	default:
		return source.Opaque{Type: fmt.Sprintf("%T", v)}
	}
}

func values(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = Value(item)
	}
	return out
}

// Ints converts a pickled tuple or list of integers, such as a shape or strides.
func Ints(v any) ([]int, error) {
	var items []any
	switch x := v.(type) {
	case *types.Tuple:
		items = *x
	case types.Tuple:
		items = x
	case *types.List:
		items = *x
	case types.List:
		items = x
	case []any:
		items = x
	default:
		return nil, fmt.Errorf("expected a tuple of ints, got %T", v)
	}

	out := make([]int, len(items))
	for i, item := range items {
		n, err := Int(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// Int converts a pickled integer.
func Int(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("integer %s out of range", x)
		}
		return int(x.Int64()), nil
	default:
		return 0, fmt.Errorf("expected an int, got %T", v)
	}
}

// Bytes extracts a byte payload from bytes, bytearray or buffer values.
func Bytes(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return rv.Bytes(), nil
	}
	return nil, fmt.Errorf("expected bytes, got %T", v)
}

// Storage is a flat buffer of values from a torch storage.
type Storage struct {
	DType tensor.DataType
	Data  []float64
}

// StorageFrom copies the Data slice of a gopickle torch storage
// (FloatStorage, HalfStorage, LongStorage, ...) into a Storage.
func StorageFrom(s pytorch.StorageInterface) (*Storage, error) {
	rv := reflect.ValueOf(s)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil storage")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported storage %T", s)
	}
	field := rv.FieldByName("Data")
	if !field.IsValid() || field.Kind() != reflect.Slice {
		return nil, fmt.Errorf("storage %T has no data slice", s)
	}

	dtype, err := storageDType(rv.Type().Name(), field.Type().Elem().Kind())
	if err != nil {
		return nil, err
	}

	n := field.Len()
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		el := field.Index(i)
		switch el.Kind() {
		case reflect.Float32, reflect.Float64:
			data[i] = el.Float()
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			data[i] = float64(el.Int())
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			data[i] = float64(el.Uint())
		case reflect.Bool:
			if el.Bool() {
				data[i] = 1
			}
		}
	}
	return &Storage{DType: dtype, Data: data}, nil
}

func storageDType(typeName string, elem reflect.Kind) (tensor.DataType, error) {
	switch {
	case strings.HasPrefix(typeName, "BFloat16"):
		return tensor.BFloat16, nil
	case strings.HasPrefix(typeName, "Half"):
		return tensor.Float16, nil
	}
	switch elem {
	case reflect.Float32:
		return tensor.Float32, nil
	case reflect.Float64:
		return tensor.Float64, nil
	case reflect.Int8:
		return tensor.Int8, nil
	case reflect.Int16:
		return tensor.Int16, nil
	case reflect.Int32:
		return tensor.Int32, nil
	case reflect.Int64:
		return tensor.Int64, nil
	case reflect.Uint8:
		return tensor.Uint8, nil
	case reflect.Bool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported storage element kind %s", elem)
	}
}

// FromTorch gathers a gopickle torch tensor into a dense tensor.
func FromTorch(t *pytorch.Tensor) (*tensor.Tensor, error) {
	st, err := StorageFrom(t.Source)
	if err != nil {
		return nil, err
	}
	return tensor.FromStrided(st.Data, st.DType, tensor.Shape(t.Size), t.Stride, t.StorageOffset)
}
