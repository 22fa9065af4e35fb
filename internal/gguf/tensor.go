package gguf

import (
	"fmt"

	"github.com/rezzubs/faultforge/internal/tensor"
)

// ToTensor copies an F32 or F16 tensor out of the file. The shape is the
// GGUF dimension list reversed, outermost first.
func (t *TensorInfo) ToTensor() (*tensor.Tensor, error) {
	var dtype tensor.DType
	switch t.Type {
	case GGMLTypeF32:
		dtype = tensor.Float32
	case GGMLTypeF16:
		dtype = tensor.Float16
	default:
		return nil, ErrUnsupportedType{Tensor: t.Name, Type: t.Type}
	}

	size := t.SizeBytes()
	if uint64(len(t.Data)) < size {
		return nil, fmt.Errorf("tensor %s: need %d bytes, have %d", t.Name, size, len(t.Data))
	}

	shape := make([]int, len(t.Dimensions))
	for i, d := range t.Dimensions {
		shape[len(shape)-1-i] = int(d)
	}
	out := tensor.New(dtype, shape...)
	copy(out.Data, t.Data[:size])
	return out, nil
}

// LoadTensors converts the named tensors of f, in order.
func (f *GGUFFile) LoadTensors(names ...string) (tensor.List, error) {
	out := make(tensor.List, 0, len(names))
	for _, name := range names {
		info, ok := f.Tensor(name)
		if !ok {
			return nil, fmt.Errorf("tensor %s not found", name)
		}
		t, err := info.ToTensor()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
