package convert

import (
	"fmt"
	"math"
	"math/big"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

// Field names read from the source mapping.
const (
	FieldPrototypes = "prototypes"
	FieldClassNames = "class_names"
	FieldDefectIdx  = "defect_idx"
)

func extract(obj *source.Object) (Result, error) {
	var res Result

	v, _ := obj.Get(FieldPrototypes)
	protos, err := toPrototypes(v)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", FieldPrototypes, err)
	}
	res.Prototypes = protos

	v, _ = obj.Get(FieldClassNames)
	names, err := toClassNames(v)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", FieldClassNames, err)
	}
	res.ClassNames = names

	v, _ = obj.Get(FieldDefectIdx)
	idx, err := toDefectIdx(v)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", FieldDefectIdx, err)
	}
	res.DefectIdx = idx

	return res, nil
}

// toPrototypes accepts a rank-2 tensor, a sequence of rows, or nothing.
func toPrototypes(v any) ([][]float64, error) {
	switch p := v.(type) {
	case nil:
		return [][]float64{}, nil
	case *tensor.Tensor:
		return p.Rows()
	case []any:
		rows := make([][]float64, len(p))
		for i, item := range p {
			row, err := toRow(item)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			rows[i] = row
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported value %s", source.Kind(v))
	}
}

func toRow(v any) ([]float64, error) {
	switch r := v.(type) {
	case *tensor.Tensor:
		return r.Vector()
	case []any:
		row := make([]float64, len(r))
		for j, item := range r {
			f, err := toFloat(item)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", j, err)
			}
			row[j] = f
		}
		return row, nil
	default:
		return nil, fmt.Errorf("unsupported row %s", source.Kind(v))
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case *tensor.Tensor:
		return n.Scalar()
	default:
		return 0, fmt.Errorf("not a number: %s", source.Kind(v))
	}
}

// toClassNames accepts a sequence of strings. A missing or nil value
// yields DefaultClassNames.
func toClassNames(v any) ([]string, error) {
	switch c := v.(type) {
	case nil:
		return append([]string(nil), DefaultClassNames...), nil
	case []any:
		names := make([]string, len(c))
		for i, item := range c {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %s, want string", i, source.Kind(item))
			}
			names[i] = s
		}
		return names, nil
	default:
		return nil, fmt.Errorf("unsupported value %s", source.Kind(v))
	}
}

// toDefectIdx accepts any integral number, including single-element
// tensors left by numpy scalars. A missing or nil value yields 0.
func toDefectIdx(v any) (int64, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return d, nil
	case *big.Int:
		if !d.IsInt64() {
			return 0, fmt.Errorf("%s overflows int64", d)
		}
		return d.Int64(), nil
	case float64:
		return integral(d)
	case *tensor.Tensor:
		f, err := d.Scalar()
		if err != nil {
			return 0, err
		}
		return integral(f)
	default:
		return 0, fmt.Errorf("unsupported value %s", source.Kind(v))
	}
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}
