package pickle

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/printguard/protoconv/internal/source/pyobj"
	"github.com/printguard/protoconv/internal/tensor"
)

// rebuildTensor implements torch._utils._rebuild_tensor_v2(storage,
// storage_offset, size, stride, requires_grad, backward_hooks[, metadata])
// and its v1 form, which stops after stride.
type rebuildTensor struct{}

func (rebuildTensor) Call(args ...any) (any, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("_rebuild_tensor: expected at least 4 arguments, got %d", len(args))
	}
	st, ok := args[0].(*pyobj.Storage)
	if !ok {
		return nil, fmt.Errorf("_rebuild_tensor: unexpected storage %T", args[0])
	}
	offset, err := pyobj.Int(args[1])
	if err != nil {
		return nil, fmt.Errorf("_rebuild_tensor offset: %w", err)
	}
	size, err := pyobj.Ints(args[2])
	if err != nil {
		return nil, fmt.Errorf("_rebuild_tensor size: %w", err)
	}
	stride, err := pyobj.Ints(args[3])
	if err != nil {
		return nil, fmt.Errorf("_rebuild_tensor stride: %w", err)
	}
	return tensor.FromStrided(st.Data, st.DType, tensor.Shape(size), stride, offset)
}

// rebuildParameter implements torch._utils._rebuild_parameter(data, requires_grad, backward_hooks).
type rebuildParameter struct{}

func (rebuildParameter) Call(args ...any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("_rebuild_parameter: missing data")
	}
	return args[0], nil
}

// rebuildFromType implements torch._tensor._rebuild_from_type_v2(func, type, args, state),
// used for tensor subclasses and tensors carrying attributes.
type rebuildFromType struct{}

func (rebuildFromType) Call(args ...any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("_rebuild_from_type_v2: expected 4 arguments, got %d", len(args))
	}
	fn, ok := args[0].(types.Callable)
	if !ok {
		return nil, fmt.Errorf("_rebuild_from_type_v2: %T is not callable", args[0])
	}
	inner, ok := tupleItems(args[2])
	if !ok {
		return nil, fmt.Errorf("_rebuild_from_type_v2: unexpected args %T", args[2])
	}
	return fn.Call(inner...)
}

// loadFromBytes implements torch.storage._load_from_bytes(b). A storage
// pickled outside torch.save embeds a complete legacy torch.save stream.
type loadFromBytes struct{}

func (loadFromBytes) Call(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("_load_from_bytes: expected 1 argument, got %d", len(args))
	}
	b, err := pyobj.Bytes(args[0])
	if err != nil {
		return nil, fmt.Errorf("_load_from_bytes: %w", err)
	}

	// gopickle's torch loader reads from a named file only.
	tmp, err := os.CreateTemp("", "protoconv-storage-*.pt")
	if err != nil {
		return nil, fmt.Errorf("_load_from_bytes: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("_load_from_bytes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("_load_from_bytes: %w", err)
	}

	loaded, err := pytorch.Load(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("_load_from_bytes: %w", err)
	}
	storage, ok := loaded.(pytorch.StorageInterface)
	if !ok {
		return nil, fmt.Errorf("_load_from_bytes: expected a storage, got %T", loaded)
	}
	return pyobj.StorageFrom(storage)
}
