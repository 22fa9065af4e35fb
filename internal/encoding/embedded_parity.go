package encoding

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// EPScheme selects how many data bits share one embedded parity bit.
//
// D3P1 gives the most chunks per element and therefore tolerates the most
// faults.
type EPScheme uint8

const (
	D3P1 EPScheme = iota
	D7P1
	D15P1
)

// DataBits returns the number of data bits per chunk.
func (s EPScheme) DataBits() int {
	switch s {
	case D3P1:
		return 3
	case D7P1:
		return 7
	case D15P1:
		return 15
	default:
		panic(fmt.Sprintf("encoding: unknown embedded parity scheme %d", s))
	}
}

func (s EPScheme) String() string {
	switch s {
	case D3P1:
		return "d3p1"
	case D7P1:
		return "d7p1"
	case D15P1:
		return "d15p1"
	default:
		return fmt.Sprintf("UNKNOWN_EP_SCHEME_%d", s)
	}
}

func ParseEPScheme(s string) (EPScheme, error) {
	switch strings.ToLower(s) {
	case "d3p1":
		return D3P1, nil
	case "d7p1":
		return D7P1, nil
	case "d15p1":
		return D15P1, nil
	default:
		return 0, fmt.Errorf("unknown embedded parity scheme %q", s)
	}
}

// epChunk is one protected group of data bits and the position of its
// parity bit.
type epChunk struct {
	mask   uint64
	parity uint
}

// chunks lays out a width-bit word: with k data bits per chunk there are
// width/(k+1) chunks. Chunk i covers bits width-1-k*i down to width-k*(i+1)
// and stores its parity in bit m-1-i, so the parity bits fill the lowest m
// bits of the word.
//
// For f32 D3P1 this is 0bHHHG_GGFF_FEEE_DDDC_CCBB_BAAA_HGFE_DCBA.
func (s EPScheme) chunks(width int) []epChunk {
	k := s.DataBits()
	m := width / (k + 1)
	out := make([]epChunk, m)
	for i := 0; i < m; i++ {
		low := width - k*(i+1)
		out[i] = epChunk{
			mask:   ((uint64(1) << k) - 1) << low,
			parity: uint(m - 1 - i),
		}
	}
	return out
}

// EmbeddedParityEncoder protects the high bits of every element with
// parity bits embedded in the low mantissa bits. It has no memory overhead.
type EmbeddedParityEncoder struct {
	Scheme EPScheme
}

func (e EmbeddedParityEncoder) String() string {
	return "ep:" + e.Scheme.String()
}

func (e EmbeddedParityEncoder) AddMetadata(md map[string]string) {
	md["embedded_parity"] = "true"
	md["embedded_parity_scheme"] = e.Scheme.String()
}

func (e EmbeddedParityEncoder) Encode(ts tensor.List) (Encoding, error) {
	start := time.Now()
	if err := requireFloat("embedded parity", ts); err != nil {
		return nil, err
	}
	if e.Scheme > D15P1 {
		return nil, fmt.Errorf("embedded parity: unknown scheme %d", e.Scheme)
	}

	encoded := ts.Clone()
	tables := map[int][]epChunk{}
	mapWords(encoded, func(w uint64, width int) uint64 {
		cs, ok := tables[width]
		if !ok {
			cs = e.Scheme.chunks(width)
			tables[width] = cs
		}
		for _, c := range cs {
			p := uint64(bits.OnesCount64(w&c.mask) & 1)
			w = w&^(1<<c.parity) | p<<c.parity
		}
		return w
	})
	metrics.RecordEncode(e.String(), time.Since(start))

	return &EmbeddedParityEncoding{
		tensorEncoding: newTensorEncoding(encoded, ts),
		scheme:         e.Scheme,
	}, nil
}

// EmbeddedParityEncoding decodes by checking every chunk against its
// embedded parity bit. A mismatching chunk is set to zero; all other bits,
// the parity bits included, are returned as stored.
type EmbeddedParityEncoding struct {
	tensorEncoding
	scheme EPScheme
}

func (e *EmbeddedParityEncoding) Decode() tensor.List {
	return e.decode(e.decodeTensors)
}

func (e *EmbeddedParityEncoding) decodeTensors(encoded tensor.List) tensor.List {
	out := encoded.Clone()
	zeroed := 0
	tables := map[int][]epChunk{}
	mapWords(out, func(w uint64, width int) uint64 {
		cs, ok := tables[width]
		if !ok {
			cs = e.scheme.chunks(width)
			tables[width] = cs
		}
		for _, c := range cs {
			if uint64(bits.OnesCount64(w&c.mask)&1) != (w>>c.parity)&1 {
				w &^= c.mask
				zeroed++
			}
		}
		return w
	})
	metrics.RecordChunksZeroed(e.scheme.String(), zeroed)
	return out
}

func (e *EmbeddedParityEncoding) Clone() Encoding {
	return &EmbeddedParityEncoding{
		tensorEncoding: e.tensorEncoding.clone(),
		scheme:         e.scheme,
	}
}
