package encoding

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/tensor"
)

func TestHammingCodeLayout(t *testing.T) {
	tests := []struct {
		k, r int
	}{
		{1, 2}, {4, 3}, {11, 4}, {16, 5}, {26, 5}, {32, 6}, {64, 7}, {128, 8},
	}
	for _, tt := range tests {
		c := newHammingCode(tt.k)
		assert.Equal(t, tt.r, c.r, "k=%d", tt.k)
		assert.Len(t, c.dataPos, tt.k)
		for i, p := range c.dataPos {
			assert.NotZero(t, p&(p-1), "data bit %d at power of two position %d", i, p)
			assert.Equal(t, i, c.posData[p])
		}
	}
}

func TestSecdedCorrectsEverySingleFlip(t *testing.T) {
	for _, chunk := range []int{8, 32, 64} {
		input := randomList(21, tensor.Float32, []int{3}, []int{2})
		enc, err := SecdedEncoder{ChunkSize: chunk}.Encode(input)
		require.NoError(t, err)

		te := enc.(TensorEncoding)
		encoded := te.Encoded()
		for ti, x := range encoded {
			for e := 0; e < x.Len(); e++ {
				for b := 0; b < x.DType.Bits(); b++ {
					c := enc.Clone()
					flipEncoded(t, c, faults.Address{Tensor: ti, Element: e, Bit: b})
					require.True(t, c.Decode().Equal(input), "chunk %d, flip (%d,%d,%d)", chunk, ti, e, b)
				}
			}
		}
	}
}

func TestSecdedDetectsDoubleFlip(t *testing.T) {
	input := singleF32(0x3F800000)
	enc, err := SecdedEncoder{ChunkSize: 32}.Encode(input)
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.UncorrectableBlocks.WithLabelValues("secded"))
	flipEncoded(t, enc,
		faults.Address{Tensor: 0, Element: 0, Bit: 30},
		faults.Address{Tensor: 0, Element: 0, Bit: 2},
	)
	decoded := enc.Decode()

	// left as stored, no miscorrection
	assert.Equal(t, uint64(0x3F800000^(1<<30)^(1<<2)), decoded[0].Word(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UncorrectableBlocks.WithLabelValues("secded"))-before)
}

func TestSecdedBlocksAreIndependent(t *testing.T) {
	input := randomList(4, tensor.Float16, []int{8})
	enc, err := SecdedEncoder{ChunkSize: 16}.Encode(input)
	require.NoError(t, err)

	// one flip in each of four different blocks
	flipEncoded(t, enc,
		faults.Address{Tensor: 0, Element: 0, Bit: 15},
		faults.Address{Tensor: 0, Element: 2, Bit: 0},
		faults.Address{Tensor: 0, Element: 5, Bit: 7},
		faults.Address{Tensor: 0, Element: 7, Bit: 9},
	)
	assert.True(t, enc.Decode().Equal(input))
}

func TestSecdedPartialLastBlock(t *testing.T) {
	// 48 data bits with 32 bit blocks leave a 16 bit tail block
	input := randomList(6, tensor.Float16, []int{3})
	enc, err := SecdedEncoder{ChunkSize: 32}.Encode(input)
	require.NoError(t, err)
	flipEncoded(t, enc, faults.Address{Tensor: 0, Element: 2, Bit: 11})
	assert.True(t, enc.Decode().Equal(input))
}

func TestBitPatternScope(t *testing.T) {
	input := singleF32(0x3F80_1234)
	pattern := SignExponentPattern(tensor.Float32)
	enc, err := BitPatternEncoder{Pattern: pattern}.Encode(input)
	require.NoError(t, err)
	// 9 covered bits, r=4, plus overall parity, packed into one byte
	assert.Equal(t, 32+8, enc.BitsCount())

	covered := enc.Clone()
	flipEncoded(t, covered, faults.Address{Tensor: 0, Element: 0, Bit: 30})
	assert.True(t, covered.Decode().Equal(input), "covered bits are corrected")

	uncovered := enc.Clone()
	flipEncoded(t, uncovered, faults.Address{Tensor: 0, Element: 0, Bit: 4})
	assert.Equal(t, uint64(0x3F80_1234^(1<<4)), uncovered.Decode()[0].Word(0), "mantissa is unprotected")

	md := map[string]string{}
	BitPatternEncoder{Pattern: pattern}.AddMetadata(md)
	assert.Equal(t, "0xff800000", md["bit_pattern"])
	assert.Equal(t, "64", md["chunk_size"])
}

func TestBitPatternMixedWidths(t *testing.T) {
	f32 := randomList(1, tensor.Float32, []int{4})
	f16 := randomList(2, tensor.Float16, []int{4})
	input := tensor.List{f32[0], f16[0]}
	enc, err := BitPatternEncoder{Pattern: 0xC000_C000, ChunkSize: 8}.Encode(input)
	require.NoError(t, err)

	flipEncoded(t, enc,
		faults.Address{Tensor: 0, Element: 1, Bit: 31},
		faults.Address{Tensor: 1, Element: 3, Bit: 14},
	)
	assert.True(t, enc.Decode().Equal(input))
}

func TestSignExponentPattern(t *testing.T) {
	assert.Equal(t, uint64(0xFF800000), SignExponentPattern(tensor.Float32))
	assert.Equal(t, uint64(0xFC00), SignExponentPattern(tensor.Float16))
	assert.Zero(t, SignExponentPattern(tensor.Uint8))
}

func TestCheckPaddingBitsAreInert(t *testing.T) {
	input := singleF32(0x3F80_1234)
	// 4 blocks of 8 data bits, 5 check bits each: 20 bits in 3 bytes
	enc, err := SecdedEncoder{ChunkSize: 8}.Encode(input)
	require.NoError(t, err)
	assert.Equal(t, 32+24, enc.BitsCount())

	te := enc.(TensorEncoding)
	flipped := te.Encoded().Clone()
	last := len(flipped) - 1
	var pad []faults.Address
	for b := 4; b < 8; b++ {
		pad = append(pad, faults.Address{Tensor: last, Element: 2, Bit: b})
	}
	faults.Flip(flipped, pad)
	require.NoError(t, te.ReplaceEncoded(flipped))
	assert.True(t, enc.Decode().Equal(input))
}
