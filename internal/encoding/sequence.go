package encoding

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// SequenceEncoder chains encoders. Stages[0] encodes the input, every later
// stage encodes the physical tensors of the stage before it. All stages but
// the last must produce a TensorEncoding.
type SequenceEncoder struct {
	Stages []Encoder
}

func (e SequenceEncoder) String() string {
	parts := make([]string, len(e.Stages))
	for i, s := range e.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, "+")
}

func (e SequenceEncoder) AddMetadata(md map[string]string) {
	for _, s := range e.Stages {
		s.AddMetadata(md)
	}
}

func (e SequenceEncoder) Encode(ts tensor.List) (Encoding, error) {
	if len(e.Stages) == 0 {
		return nil, errors.New("sequence: no stages")
	}
	layers := make([]Encoding, 0, len(e.Stages))
	input := ts
	for i, stage := range e.Stages {
		enc, err := stage.Encode(input)
		if err != nil {
			return nil, fmt.Errorf("sequence stage %d (%s): %w", i, stage, err)
		}
		layers = append(layers, enc)
		if i == len(e.Stages)-1 {
			break
		}
		te, ok := enc.(TensorEncoding)
		if !ok {
			return nil, fmt.Errorf("sequence stage %d (%s) does not store tensors and cannot be followed by another stage", i, stage)
		}
		input = te.Encoded()
	}
	return &SequenceEncoding{
		layers:  layers,
		decoded: ts.Clone(),
	}, nil
}

// SequenceEncoding decodes outermost first: the outer layer's result is
// written into the next inner layer, which then decodes, down to the
// original tensors. Flips always target the outermost layer.
type SequenceEncoding struct {
	layers  []Encoding
	decoded tensor.List
	dirty   bool
}

func (e *SequenceEncoding) outer() Encoding {
	return e.layers[len(e.layers)-1]
}

func (e *SequenceEncoding) Decode() tensor.List {
	if !e.dirty {
		return e.decoded
	}
	cur := e.outer().Decode()
	for i := len(e.layers) - 2; i >= 0; i-- {
		inner := e.layers[i].(TensorEncoding)
		if err := inner.ReplaceEncoded(cur); err != nil {
			// layouts are fixed at encode time
			panic(fmt.Sprintf("sequence: layer %d: %v", i, err))
		}
		cur = inner.Decode()
	}
	e.decoded = cur
	e.dirty = false
	return e.decoded
}

func (e *SequenceEncoding) Clone() Encoding {
	layers := make([]Encoding, len(e.layers))
	for i, l := range e.layers {
		layers[i] = l.Clone()
	}
	return &SequenceEncoding{
		layers:  layers,
		decoded: e.decoded.Clone(),
		dirty:   e.dirty,
	}
}

func (e *SequenceEncoding) FlipNBits(n int, rng *rand.Rand) ([]faults.Address, error) {
	addrs, err := e.outer().FlipNBits(n, rng)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		e.dirty = true
	}
	return addrs, nil
}

func (e *SequenceEncoding) BitsCount() int {
	return e.outer().BitsCount()
}

// Encoded returns the outermost layer's physical tensors, or nil when the
// outermost layer does not store tensors.
func (e *SequenceEncoding) Encoded() tensor.List {
	if te, ok := e.outer().(TensorEncoding); ok {
		return te.Encoded()
	}
	return nil
}

func (e *SequenceEncoding) ReplaceEncoded(ts tensor.List) error {
	te, ok := e.outer().(TensorEncoding)
	if !ok {
		return errors.New("sequence: outermost layer does not store tensors")
	}
	if err := te.ReplaceEncoded(ts); err != nil {
		return err
	}
	e.dirty = true
	return nil
}

// Layers returns the number of chained encodings.
func (e *SequenceEncoding) Layers() int {
	return len(e.layers)
}
