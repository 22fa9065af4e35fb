package encoding

import (
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// DefaultChunkSize is the number of data bits per SECDED block when an
// encoder leaves ChunkSize at zero.
const DefaultChunkSize = 64

// hammingCode is an extended Hamming (SECDED) code for blocks of k data
// bits. Codeword positions run from 1 to k+r; powers of two hold the r check
// bits and the remaining positions hold data bits in order. One extra
// overall parity bit turns single error correction into SECDED.
type hammingCode struct {
	k       int
	r       int
	dataPos []uint32 // codeword position of data bit i
	posData []int    // data bit at a codeword position, -1 for check bits
}

func newHammingCode(k int) *hammingCode {
	r := 0
	for (1 << r) < k+r+1 {
		r++
	}
	c := &hammingCode{
		k:       k,
		r:       r,
		dataPos: make([]uint32, 0, k),
		posData: make([]int, k+r+1),
	}
	c.posData[0] = -1
	for p := 1; p <= k+r; p++ {
		if p&(p-1) == 0 {
			c.posData[p] = -1
			continue
		}
		c.posData[p] = len(c.dataPos)
		c.dataPos = append(c.dataPos, uint32(p))
	}
	return c
}

// checkBits returns the stored bits per block: r Hamming bits plus the
// overall parity.
func (c *hammingCode) checkBits() int {
	return c.r + 1
}

// scan returns the syndrome contribution and parity of the n data bits of a
// block starting at stream index start.
func (c *hammingCode) scan(stream []uint64, start, n int) (syndrome uint32, parity uint32) {
	for i := 0; i < n; i++ {
		s := start + i
		if stream[s/64]>>(s%64)&1 != 0 {
			syndrome ^= c.dataPos[i]
			parity ^= 1
		}
	}
	return syndrome, parity
}

// bitStream views selected bit positions of a tensor list as one contiguous
// sequence of bits: tensors in order, elements in order and the selected
// positions of every element from least to most significant.
type bitStream struct {
	ts      tensor.List
	pos     [][]uint // selected positions per tensor
	offsets []int    // stream offset of every tensor, plus the total
}

// newBitStream selects the positions set in pattern. A zero pattern selects
// every bit.
func newBitStream(ts tensor.List, pattern uint64) *bitStream {
	s := &bitStream{
		ts:      ts,
		pos:     make([][]uint, len(ts)),
		offsets: make([]int, len(ts)+1),
	}
	for i, t := range ts {
		width := t.DType.Bits()
		for b := 0; b < width; b++ {
			if pattern == 0 || pattern>>b&1 != 0 {
				s.pos[i] = append(s.pos[i], uint(b))
			}
		}
		s.offsets[i+1] = s.offsets[i] + t.Len()*len(s.pos[i])
	}
	return s
}

func (s *bitStream) len() int {
	return s.offsets[len(s.ts)]
}

// extract packs the stream into 64-bit words.
func (s *bitStream) extract() []uint64 {
	out := make([]uint64, (s.len()+63)/64)
	idx := 0
	for ti, t := range s.ts {
		pos := s.pos[ti]
		if len(pos) == 0 {
			continue
		}
		for e, n := 0, t.Len(); e < n; e++ {
			w := t.Word(e)
			for _, p := range pos {
				if w>>p&1 != 0 {
					out[idx/64] |= 1 << (idx % 64)
				}
				idx++
			}
		}
	}
	return out
}

// flip toggles stream bit i in the underlying tensors.
func (s *bitStream) flip(i int) {
	ti := sort.Search(len(s.ts), func(k int) bool { return s.offsets[k+1] > i })
	local := i - s.offsets[ti]
	pos := s.pos[ti]
	s.ts[ti].FlipBit(local/len(pos), int(pos[local%len(pos)]))
}

func checkBit(t *tensor.Tensor, off int) uint32 {
	return uint32(t.Data[off/8]>>(off%8)) & 1
}

func setCheckBit(t *tensor.Tensor, off int, v uint32) {
	if v != 0 {
		t.Data[off/8] |= 1 << (off % 8)
	}
}

// SecdedEncoder protects every bit of the input with an extended Hamming
// code over blocks of ChunkSize data bits.
//
// The data tensors are stored unchanged and the check bits are appended as
// one packed Uint8 tensor, so faults can hit data and check bits alike.
type SecdedEncoder struct {
	// ChunkSize is the number of data bits per block. Zero means
	// DefaultChunkSize.
	ChunkSize int
}

func (e SecdedEncoder) chunkSize() int {
	if e.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return e.ChunkSize
}

func (e SecdedEncoder) String() string {
	return fmt.Sprintf("secded:%d", e.chunkSize())
}

func (e SecdedEncoder) AddMetadata(md map[string]string) {
	md["chunk_size"] = fmt.Sprint(e.chunkSize())
}

func (e SecdedEncoder) Encode(ts tensor.List) (Encoding, error) {
	return encodeHamming("secded", e.String(), ts, 0, e.chunkSize())
}

// BitPatternEncoder applies the SECDED code only to the element bits
// selected by Pattern. Unselected bits are stored without protection.
type BitPatternEncoder struct {
	// Pattern selects bit positions of every element; bit 0 is the least
	// significant bit. Positions beyond an element's width are ignored.
	Pattern   uint64
	ChunkSize int
}

// SignExponentPattern selects the sign and exponent bits of a float dtype.
func SignExponentPattern(d tensor.DType) uint64 {
	switch d {
	case tensor.Float32:
		return 0xFF80_0000
	case tensor.Float16:
		return 0xFC00
	default:
		return 0
	}
}

func (e BitPatternEncoder) chunkSize() int {
	if e.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return e.ChunkSize
}

func (e BitPatternEncoder) String() string {
	return fmt.Sprintf("bitpattern:%#x:%d", e.Pattern, e.chunkSize())
}

func (e BitPatternEncoder) AddMetadata(md map[string]string) {
	md["chunk_size"] = fmt.Sprint(e.chunkSize())
	md["bit_pattern"] = fmt.Sprintf("%#x", e.Pattern)
}

func (e BitPatternEncoder) Encode(ts tensor.List) (Encoding, error) {
	if e.Pattern == 0 {
		return nil, fmt.Errorf("bit pattern: empty pattern")
	}
	return encodeHamming("bitpattern", e.String(), ts, e.Pattern, e.chunkSize())
}

func encodeHamming(codec, label string, ts tensor.List, pattern uint64, k int) (Encoding, error) {
	start := time.Now()
	if k < 1 || k > 1<<16 {
		return nil, fmt.Errorf("%s: chunk size %d outside [1, 65536]", codec, k)
	}
	code := newHammingCode(k)
	data := ts.Clone()
	stream := newBitStream(data, pattern)
	bitsOf := stream.extract()

	total := stream.len()
	blocks := (total + k - 1) / k
	cb := code.checkBits()
	check := tensor.New(tensor.Uint8, (blocks*cb+7)/8)
	for j := 0; j < blocks; j++ {
		n := min(k, total-j*k)
		syn, par := code.scan(bitsOf, j*k, n)
		off := j * cb
		// overall parity covers data and check bits
		setCheckBit(check, off, par^uint32(bits.OnesCount32(syn)&1))
		for b := 0; b < code.r; b++ {
			setCheckBit(check, off+1+b, syn>>b&1)
		}
	}
	metrics.RecordEncode(label, time.Since(start))

	return &HammingEncoding{
		tensorEncoding: newTensorEncoding(append(data, check), ts),
		code:           code,
		pattern:        pattern,
		codec:          codec,
	}, nil
}

// HammingEncoding is produced by SecdedEncoder and BitPatternEncoder. Its
// encoded form is the data tensors followed by one Uint8 check-bit tensor.
// Check bits are packed block after block and the tensor is padded to whole
// bytes, so up to 7 trailing bits belong to no block. They are addressable
// and count in BitsCount, but flipping them has no effect on Decode.
//
// Decoding recomputes the syndrome of every block. A single error in a data
// or check bit is corrected. A double error is counted as uncorrectable and
// the block is returned as stored.
type HammingEncoding struct {
	tensorEncoding
	code    *hammingCode
	pattern uint64
	codec   string
}

func (e *HammingEncoding) Decode() tensor.List {
	return e.decode(e.decodeTensors)
}

func (e *HammingEncoding) decodeTensors(encoded tensor.List) tensor.List {
	data := encoded[:len(encoded)-1].Clone()
	check := encoded[len(encoded)-1]
	stream := newBitStream(data, e.pattern)
	bitsOf := stream.extract()

	k, cb := e.code.k, e.code.checkBits()
	n := k + e.code.r
	total := stream.len()
	corrected, uncorrectable := 0, 0
	for j := 0; j*k < total; j++ {
		count := min(k, total-j*k)
		syn, par := e.code.scan(bitsOf, j*k, count)
		off := j * cb
		stored := uint32(0)
		for b := 0; b < e.code.r; b++ {
			stored |= checkBit(check, off+1+b) << b
		}
		syn ^= stored
		par ^= uint32(bits.OnesCount32(stored)&1) ^ checkBit(check, off)

		switch {
		case syn == 0 && par == 0:
		case par == 0:
			// even number of flips with a non-zero syndrome
			uncorrectable++
		case syn&(syn-1) == 0:
			// overall parity bit or a Hamming check bit, data is intact
			corrected++
		case int(syn) <= n && e.code.posData[syn] >= 0 && e.code.posData[syn] < count:
			stream.flip(j*k + e.code.posData[syn])
			corrected++
		default:
			// the syndrome points outside this block's codeword
			uncorrectable++
		}
	}
	metrics.RecordHammingDecode(e.codec, corrected, uncorrectable)
	return data
}

func (e *HammingEncoding) Clone() Encoding {
	return &HammingEncoding{
		tensorEncoding: e.tensorEncoding.clone(),
		code:           e.code,
		pattern:        e.pattern,
		codec:          e.codec,
	}
}
