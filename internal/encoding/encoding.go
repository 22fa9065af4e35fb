// Package encoding defines the encoder/encoding contract for protected tensor
// storage and the bit-level codecs built on it.
//
// An encoding scheme always comes in two parts. The Encoder is a stateless
// configuration value that turns an unencoded tensor list into an Encoding.
// The Encoding owns the physical, possibly redundant, bit layout, is the
// target of fault injection and reconstructs the original tensors on
// Decode.
//
// Codecs:
//   - SecdedEncoder: extended Hamming code over fixed size blocks of the
//     whole bit stream.
//   - BitPatternEncoder: the same code restricted to selected bit positions
//     of every element.
//   - EmbeddedParityEncoder: one parity bit per chunk of high bits, stored in
//     the low mantissa bits. Failing chunks are zeroed.
//   - MsetEncoder: most significant exponent bit triplication with majority
//     vote.
//   - SequenceEncoder: chains the above.
//
// Uncorrectable corruption is never reported as an error. Codecs degrade
// (zero, leave as is) and count the event in internal/metrics.
package encoding

import (
	"fmt"
	"math/rand/v2"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// Encoder maps an unencoded tensor list to a fresh Encoding. Encoders never
// retain or modify their input.
type Encoder interface {
	Encode(ts tensor.List) (Encoding, error)
	// AddMetadata records scheme identifying keys for provenance.
	AddMetadata(md map[string]string)
	// String returns the scheme string accepted by config.ParseScheme.
	String() string
}

// Encoding stores encoded data and reconstructs the original tensors.
type Encoding interface {
	// Decode returns tensors with the layout of the original input. Without
	// intervening flips the result is the input, bit for bit. The returned
	// list is owned by the encoding and must not be modified.
	Decode() tensor.List
	// Clone returns a deep copy; neither copy observes mutations of the other.
	Clone() Encoding
	// FlipNBits flips n distinct, uniformly chosen bits of the encoded data.
	FlipNBits(n int, rng *rand.Rand) ([]faults.Address, error)
	// BitsCount returns the number of physical bits of the encoded data.
	BitsCount() int
}

// TensorEncoding is an Encoding that stores its encoded form as a tensor
// list, which lets it be used as a non-final stage of a SequenceEncoder.
type TensorEncoding interface {
	Encoding
	// Encoded returns the physical tensors. Callers must not modify them.
	Encoded() tensor.List
	// ReplaceEncoded overwrites the physical tensors with ts (same layout)
	// and invalidates the decode cache.
	ReplaceEncoded(ts tensor.List) error
}

// UnsupportedDTypeError is returned at encode time when a codec cannot
// represent a tensor's element type.
type UnsupportedDTypeError struct {
	Codec  string
	Tensor int
	DType  tensor.DType
}

func (e UnsupportedDTypeError) Error() string {
	return fmt.Sprintf("%s: tensor %d has unsupported dtype %v", e.Codec, e.Tensor, e.DType)
}

// MemoryOverhead returns the relative size increase of encoded over
// original bits.
func MemoryOverhead(originalBits, encodedBits int) float64 {
	if originalBits == 0 {
		return 0
	}
	return float64(encodedBits-originalBits) / float64(originalBits)
}

// tensorEncoding holds the state shared by all tensor-backed encodings: the
// encoded buffers, the decode cache and its dirty flag.
type tensorEncoding struct {
	encoded tensor.List
	decoded tensor.List
	dirty   bool
}

// newTensorEncoding takes ownership of encoded and caches a deep copy of
// original as the decoded form.
func newTensorEncoding(encoded, original tensor.List) tensorEncoding {
	return tensorEncoding{
		encoded: encoded,
		decoded: original.Clone(),
	}
}

func (e *tensorEncoding) FlipNBits(n int, rng *rand.Rand) ([]faults.Address, error) {
	addrs, err := faults.Inject(e.encoded, n, rng)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		e.dirty = true
	}
	return addrs, nil
}

func (e *tensorEncoding) BitsCount() int {
	return e.encoded.Bits()
}

func (e *tensorEncoding) Encoded() tensor.List {
	return e.encoded
}

func (e *tensorEncoding) ReplaceEncoded(ts tensor.List) error {
	if err := e.encoded.CopyFrom(ts); err != nil {
		return fmt.Errorf("replace encoded: %w", err)
	}
	e.dirty = true
	return nil
}

// decode returns the cache, refreshing it with fn when dirty.
func (e *tensorEncoding) decode(fn func(encoded tensor.List) tensor.List) tensor.List {
	if e.dirty {
		e.decoded = fn(e.encoded)
		e.dirty = false
	}
	return e.decoded
}

func (e *tensorEncoding) clone() tensorEncoding {
	return tensorEncoding{
		encoded: e.encoded.Clone(),
		decoded: e.decoded.Clone(),
		dirty:   e.dirty,
	}
}

// requireFloat fails fast for tensors that are not Float16 or Float32.
func requireFloat(codec string, ts tensor.List) error {
	for i, t := range ts {
		if !t.DType.IsFloat() {
			return UnsupportedDTypeError{Codec: codec, Tensor: i, DType: t.DType}
		}
	}
	return nil
}

// mapWords applies fn to every element word of every tensor in place.
func mapWords(ts tensor.List, fn func(w uint64, width int) uint64) {
	for _, t := range ts {
		width := t.DType.Bits()
		for i, n := 0, t.Len(); i < n; i++ {
			t.SetWord(i, fn(t.Word(i), width))
		}
	}
}
