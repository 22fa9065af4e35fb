// Package system binds model data to an accuracy metric and to fault
// injection, so the sweep runner can treat every model the same way.
package system

import (
	"fmt"
	"maps"
	"math/rand/v2"

	"github.com/rezzubs/faultforge/internal/encoding"
	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// System is the capability set of a faultable model with data type D.
//
// Implementations that keep their protectable state in tensors can satisfy
// InjectNFaults and TotalBitsCount with the free functions of the same name.
type System[D any] interface {
	// Data returns the pristine data. Callers clone it before mutating.
	Data() D
	// Accuracy evaluates d, as a percentage.
	Accuracy(d D) float64
	// DataTensors returns the protectable tensors of d.
	DataTensors(d D) tensor.List
	InjectNFaults(d D, n int, rng *rand.Rand) ([]faults.Address, error)
	Metadata() map[string]string
	// CloneData returns a deep copy of d.
	CloneData(d D) D
	// TotalBitsCount returns the size of the fault space of Data().
	TotalBitsCount() int
}

// TensorViewer is the part of a System needed by the default helpers.
type TensorViewer[D any] interface {
	Data() D
	DataTensors(d D) tensor.List
}

// InjectNFaults flips n distinct bits of the tensors returned by
// s.DataTensors(d).
//
// This only affects d when DataTensors returns views that alias the live
// storage of d. A System that hands out copies must implement injection on
// its own.
func InjectNFaults[D any](s TensorViewer[D], d D, n int, rng *rand.Rand) ([]faults.Address, error) {
	return faults.Inject(s.DataTensors(d), n, rng)
}

// TotalBitsCount sums the bit widths of the tensors of s.Data().
func TotalBitsCount[D any](s TensorViewer[D]) int {
	return faults.TotalBits(s.DataTensors(s.Data()))
}

// EncodedSystem protects the tensors of a base System with an encoder. Its
// data is the Encoding: faults hit the encoded bits and accuracy is measured
// on the decoded tensors.
type EncodedSystem[D any] struct {
	base    System[D]
	encoder encoding.Encoder
	proto   encoding.Encoding
}

// NewEncodedSystem encodes the base system's data once. The result is the
// prototype returned by Data.
func NewEncodedSystem[D any](base System[D], enc encoding.Encoder) (*EncodedSystem[D], error) {
	proto, err := enc.Encode(base.DataTensors(base.Data()))
	if err != nil {
		return nil, fmt.Errorf("encode system data with %s: %w", enc, err)
	}
	return &EncodedSystem[D]{base: base, encoder: enc, proto: proto}, nil
}

// Base is the wrapped system.
func (s *EncodedSystem[D]) Base() System[D] {
	return s.base
}

// Encoder is the encoder the data was protected with.
func (s *EncodedSystem[D]) Encoder() encoding.Encoder {
	return s.encoder
}

func (s *EncodedSystem[D]) Data() encoding.Encoding {
	return s.proto
}

// Accuracy decodes e into a fresh copy of the base data and evaluates it.
func (s *EncodedSystem[D]) Accuracy(e encoding.Encoding) float64 {
	d := s.base.CloneData(s.base.Data())
	if err := s.base.DataTensors(d).CopyFrom(e.Decode()); err != nil {
		// decode always reproduces the encoded layout
		panic(fmt.Sprintf("system: decoded tensors do not fit base data: %v", err))
	}
	return s.base.Accuracy(d)
}

// DataTensors returns the physical tensors of e, or nil when e does not
// store tensors.
func (s *EncodedSystem[D]) DataTensors(e encoding.Encoding) tensor.List {
	if te, ok := e.(encoding.TensorEncoding); ok {
		return te.Encoded()
	}
	return nil
}

func (s *EncodedSystem[D]) InjectNFaults(e encoding.Encoding, n int, rng *rand.Rand) ([]faults.Address, error) {
	return e.FlipNBits(n, rng)
}

func (s *EncodedSystem[D]) Metadata() map[string]string {
	md := maps.Clone(s.base.Metadata())
	if md == nil {
		md = map[string]string{}
	}
	s.encoder.AddMetadata(md)
	md["protected"] = "true"
	md["memory_overhead"] = fmt.Sprintf("%.1f%%", 100*s.MemoryOverhead())
	return md
}

func (s *EncodedSystem[D]) CloneData(e encoding.Encoding) encoding.Encoding {
	return e.Clone()
}

func (s *EncodedSystem[D]) TotalBitsCount() int {
	return s.proto.BitsCount()
}

// MemoryOverhead is the relative size increase of the encoded data over the
// base data.
func (s *EncodedSystem[D]) MemoryOverhead() float64 {
	return encoding.MemoryOverhead(s.base.TotalBitsCount(), s.proto.BitsCount())
}
