package encoding

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// opaqueEncoder produces an Encoding that does not expose its tensors.
type opaqueEncoder struct{}

func (opaqueEncoder) Encode(ts tensor.List) (Encoding, error) {
	return opaqueEncoding{ts.Clone()}, nil
}

func (opaqueEncoder) AddMetadata(map[string]string) {}
func (opaqueEncoder) String() string                { return "opaque" }

type opaqueEncoding struct{ ts tensor.List }

func (e opaqueEncoding) Decode() tensor.List { return e.ts }
func (e opaqueEncoding) Clone() Encoding     { return opaqueEncoding{e.ts.Clone()} }
func (e opaqueEncoding) FlipNBits(n int, rng *rand.Rand) ([]faults.Address, error) {
	return faults.Inject(e.ts, n, rng)
}
func (e opaqueEncoding) BitsCount() int { return e.ts.Bits() }

func TestSequenceIdentity(t *testing.T) {
	input := randomList(3, tensor.Float32, []int{4, 4})
	seq := SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{}, MsetEncoder{}, SecdedEncoder{ChunkSize: 32}}}
	enc, err := seq.Encode(input)
	require.NoError(t, err)
	assert.True(t, enc.Decode().Equal(input))
	assert.Equal(t, 3, enc.(*SequenceEncoding).Layers())
	assert.Equal(t, "ep:d3p1+mset:1+secded:32", seq.String())
}

func TestSequenceFlipsTargetOuterLayer(t *testing.T) {
	seq := SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{}, SecdedEncoder{}}}
	enc, err := seq.Encode(singleF32(0x3F80_0000))
	require.NoError(t, err)

	// 32 data bits plus one byte of check bits
	require.Equal(t, 40, enc.BitsCount())
	addrs, err := enc.FlipNBits(40, newRNG(9))
	require.NoError(t, err)
	hitCheck := false
	for _, a := range addrs {
		if a.Tensor == 1 {
			hitCheck = true
		}
	}
	assert.True(t, hitCheck, "the check-bit tensor is part of the fault space")
}

func TestSequenceCorrectedOuterYieldsInnerEncoding(t *testing.T) {
	seq := SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{}, SecdedEncoder{}}}
	enc, err := seq.Encode(singleF32(0x3F80_0000))
	require.NoError(t, err)

	flipEncoded(t, enc, faults.Address{Tensor: 0, Element: 0, Bit: 29})
	// SECDED restores the EP words; their parity bits are returned as stored
	assert.Equal(t, uint64(0x3F80_00E0), enc.Decode()[0].Word(0))
}

func TestSequenceInnerLayerHandlesWhatOuterMisses(t *testing.T) {
	seq := SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{}, SecdedEncoder{ChunkSize: 32}}}
	enc, err := seq.Encode(singleF32(0x3F80_0000))
	require.NoError(t, err)

	// a double error is passed through by SECDED and zeroes one EP chunk
	flipEncoded(t, enc,
		faults.Address{Tensor: 0, Element: 0, Bit: 29},
		faults.Address{Tensor: 0, Element: 0, Bit: 26},
	)
	assert.Equal(t, uint64(0x0380_00E0), enc.Decode()[0].Word(0))
}

func TestSequenceClone(t *testing.T) {
	input := randomList(5, tensor.Float16, []int{6})
	enc, err := SequenceEncoder{Stages: []Encoder{MsetEncoder{}, SecdedEncoder{}}}.Encode(input)
	require.NoError(t, err)

	c := enc.Clone()
	_, err = c.FlipNBits(c.BitsCount()/2, newRNG(2))
	require.NoError(t, err)
	c.Decode()
	assert.True(t, enc.Decode().Equal(input))
}

func TestSequenceErrors(t *testing.T) {
	_, err := SequenceEncoder{}.Encode(singleF32(0))
	assert.Error(t, err)

	_, err = SequenceEncoder{Stages: []Encoder{opaqueEncoder{}, SecdedEncoder{}}}.Encode(singleF32(0))
	assert.Error(t, err)

	_, err = SequenceEncoder{Stages: []Encoder{SecdedEncoder{}, EmbeddedParityEncoder{}}}.Encode(singleF32(0))
	var dtErr UnsupportedDTypeError
	assert.ErrorAs(t, err, &dtErr, "ep cannot encode the uint8 check bits")

	// an opaque final stage is fine
	enc, err := SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{}, opaqueEncoder{}}}.Encode(singleF32(0x3F80_0000))
	require.NoError(t, err)
	assert.Nil(t, enc.(*SequenceEncoding).Encoded())
	assert.Error(t, enc.(*SequenceEncoding).ReplaceEncoded(singleF32(0)))
}

func TestSequenceMetadata(t *testing.T) {
	md := map[string]string{}
	SequenceEncoder{Stages: []Encoder{EmbeddedParityEncoder{Scheme: D7P1}, SecdedEncoder{ChunkSize: 16}}}.AddMetadata(md)
	assert.Equal(t, "d7p1", md["embedded_parity_scheme"])
	assert.Equal(t, "16", md["chunk_size"])
}
