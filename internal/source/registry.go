package source

import "fmt"

// Decoder reads a source file into an Object.
type Decoder interface {
	// Format returns the format this decoder reads.
	Format() Format

	// Decode reads the whole file at path.
	Decode(path string) (*Object, error)
}

// Registry selects a Decoder by format.
type Registry struct {
	decoders map[Format]Decoder
}

// NewRegistry creates a registry holding the given decoders.
func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{decoders: make(map[Format]Decoder, len(decoders))}
	for _, d := range decoders {
		r.Register(d)
	}
	return r
}

// Register adds d, replacing any decoder for the same format.
func (r *Registry) Register(d Decoder) {
	r.decoders[d.Format()] = d
}

// Lookup returns the decoder for format. FormatAuto detects the format of path.
func (r *Registry) Lookup(format Format, path string) (Decoder, error) {
	if format == FormatAuto {
		detected, err := Detect(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	d, ok := r.decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder registered for %s", ErrUnknownFormat, format)
	}
	return d, nil
}
