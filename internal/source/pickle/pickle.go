// Package pickle decodes Python pickle files written with pickle.dump.
//
// Besides the builtin types handled by gopickle, the decoder understands the
// reduce protocols NumPy and PyTorch use for their arrays, so a pickled dict of
// numpy arrays or torch tensors decodes into tensors.
package pickle

import (
	"bufio"
	"fmt"
	"os"

	gopickle "github.com/nlpodyssey/gopickle/pickle"

	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/source/pyobj"
)

// Decoder reads pickle files.
type Decoder struct{}

// New creates a pickle decoder.
func New() *Decoder {
	return &Decoder{}
}

// Format returns source.FormatPickle.
func (d *Decoder) Format() source.Format {
	return source.FormatPickle
}

// Decode unpickles the file at path. The top-level value must be a dict.
func (d *Decoder) Decode(path string) (*source.Object, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for conversion
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	u := gopickle.NewUnpickler(bufio.NewReader(f))
	u.FindClass = findClass

	v, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to unpickle: %w", err)
	}
	return pyobj.ToObject(v)
}

// findClass resolves the globals referenced by numpy and torch reduce calls.
// gopickle consults it after its own builtins.
func findClass(module, name string) (any, error) {
	switch module {
	case "numpy.core.multiarray", "numpy._core.multiarray":
		switch name {
		case "_reconstruct":
			return reconstructFunc{}, nil
		case "scalar":
			return scalarFunc{}, nil
		}
	case "numpy.core.numeric", "numpy._core.numeric":
		if name == "_frombuffer" {
			return frombufferFunc{}, nil
		}
	case "numpy":
		switch name {
		case "ndarray":
			return &class{module: module, name: name}, nil
		case "dtype":
			return dtypeClass{}, nil
		}
	case "numpy.dtypes":
		return dtypeClass{name: name}, nil
	case "_codecs":
		if name == "encode" {
			return codecsEncode{}, nil
		}
	case "torch._utils":
		switch name {
		case "_rebuild_tensor", "_rebuild_tensor_v2":
			return rebuildTensor{}, nil
		case "_rebuild_parameter":
			return rebuildParameter{}, nil
		}
	case "torch._tensor":
		if name == "_rebuild_from_type_v2" {
			return rebuildFromType{}, nil
		}
	case "torch.storage":
		if name == "_load_from_bytes" {
			return loadFromBytes{}, nil
		}
	}
	return &class{module: module, name: name}, nil
}

// class is a placeholder for any global the decoder does not model.
// Calling or instantiating it yields an object that absorbs its state.
type class struct {
	module string
	name   string
}

func (c *class) PyName() string {
	return c.module + "." + c.name
}

func (c *class) Call(...any) (any, error) {
	return &object{class: c}, nil
}

func (c *class) PyNew(...any) (any, error) {
	return &object{class: c}, nil
}

type object struct {
	class *class
}

func (o *object) PyName() string {
	return o.class.PyName()
}

func (o *object) PySetState(any) error {
	return nil
}

// codecsEncode implements _codecs.encode(str, "latin1"), which protocol 2
// pickles use to carry bytes.
type codecsEncode struct{}

func (codecsEncode) Call(args ...any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("_codecs.encode: missing argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("_codecs.encode: expected str, got %T", args[0])
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, fmt.Errorf("_codecs.encode: rune %U outside latin1", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}
