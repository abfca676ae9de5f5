package convert

import "github.com/printguard/protoconv/internal/pyjson"

// DefaultClassNames is used when the source has no class_names field.
var DefaultClassNames = []string{"failure", "success"}

// Result is the converted prototype file.
type Result struct {
	Prototypes [][]float64 // Prototype vectors, one row per vector
	ClassNames []string    // Class labels
	DefectIdx  int64       // Index of the failure class in ClassNames
}

// Shape returns the table dimensions, using the first row's length as the
// column count. Rows are not required to be equal length.
func (r Result) Shape() (rows, cols int) {
	if len(r.Prototypes) == 0 {
		return 0, 0
	}
	return len(r.Prototypes), len(r.Prototypes[0])
}

// Ragged reports whether rows differ in length.
func (r Result) Ragged() bool {
	for _, row := range r.Prototypes {
		if len(row) != len(r.Prototypes[0]) {
			return true
		}
	}
	return false
}

// document is the written JSON layout; field order is significant.
type document struct {
	Prototypes [][]pyjson.Float `json:"prototypes"`
	ClassNames []string         `json:"class_names"`
	DefectIdx  int64            `json:"defect_idx"`
}

func (r Result) document() document {
	names := r.ClassNames
	if names == nil {
		names = []string{}
	}
	return document{
		Prototypes: pyjson.Floats(r.Prototypes),
		ClassNames: names,
		DefectIdx:  r.DefectIdx,
	}
}

func (d document) result() Result {
	names := d.ClassNames
	if names == nil {
		names = []string{}
	}
	return Result{
		Prototypes: pyjson.Float64s(d.Prototypes),
		ClassNames: names,
		DefectIdx:  d.DefectIdx,
	}
}

// MarshalJSON encodes the result in its written layout.
func (r Result) MarshalJSON() ([]byte, error) {
	return pyjson.MarshalIndent(r.document())
}

// UnmarshalJSON decodes a previously written result.
func (r *Result) UnmarshalJSON(data []byte) error {
	var d document
	if err := pyjson.Unmarshal(data, &d); err != nil {
		return err
	}
	*r = d.result()
	return nil
}
