// Package torch decodes files written by torch.save, both the zip archive
// layout and the legacy stream layout.
package torch

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/source/pyobj"
)

// Decoder reads torch.save files.
type Decoder struct{}

// New creates a torch decoder.
func New() *Decoder {
	return &Decoder{}
}

// Format returns source.FormatTorch.
func (d *Decoder) Format() source.Format {
	return source.FormatTorch
}

// Decode loads the file at path. The saved object must be a dict; tensors
// inside it are gathered into dense tensors.
func (d *Decoder) Decode(path string) (*source.Object, error) {
	v, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load torch file: %w", err)
	}
	return pyobj.ToObject(v)
}
