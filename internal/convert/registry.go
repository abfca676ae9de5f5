package convert

import (
	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/source/gguf"
	"github.com/printguard/protoconv/internal/source/jsonsrc"
	"github.com/printguard/protoconv/internal/source/pickle"
	"github.com/printguard/protoconv/internal/source/safetensors"
	"github.com/printguard/protoconv/internal/source/torch"
)

// DefaultRegistry returns a registry with every built-in decoder.
func DefaultRegistry() *source.Registry {
	return source.NewRegistry(
		pickle.New(),
		torch.New(),
		safetensors.New(),
		jsonsrc.New(),
		gguf.New(),
	)
}
