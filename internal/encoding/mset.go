package encoding

import (
	"fmt"
	"time"

	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// exponentBits returns the exponent width of a float dtype.
func exponentBits(d tensor.DType) int {
	switch d {
	case tensor.Float32:
		return 8
	case tensor.Float16:
		return 5
	default:
		return 0
	}
}

// MsetEncoder triplicates the most significant exponent bits. The two extra
// copies live in the lowest mantissa bits, so there is no memory overhead.
//
// For Bits protected bits the j-th one (bit width-2-j) is copied to bit
// 2*Bits-1-j and to bit Bits-1-j.
type MsetEncoder struct {
	// Bits is the number of exponent bits to protect. Zero means one.
	Bits int
}

func (e MsetEncoder) bits() int {
	if e.Bits == 0 {
		return 1
	}
	return e.Bits
}

func (e MsetEncoder) String() string {
	return fmt.Sprintf("mset:%d", e.bits())
}

func (e MsetEncoder) AddMetadata(md map[string]string) {
	md["msb_duplicated"] = "true"
	md["msb_protected_bits"] = fmt.Sprint(e.bits())
}

func (e MsetEncoder) Encode(ts tensor.List) (Encoding, error) {
	start := time.Now()
	if err := requireFloat("mset", ts); err != nil {
		return nil, err
	}
	n := e.bits()
	for i, t := range ts {
		if n < 1 || n > exponentBits(t.DType) {
			return nil, fmt.Errorf("mset: tensor %d: cannot protect %d exponent bits of %v", i, n, t.DType)
		}
	}

	encoded := ts.Clone()
	mapWords(encoded, func(w uint64, width int) uint64 {
		for j := 0; j < n; j++ {
			src, a, b := msetPositions(width, n, j)
			bit := (w >> src) & 1
			w = w&^(1<<a|1<<b) | bit<<a | bit<<b
		}
		return w
	})
	metrics.RecordEncode(e.String(), time.Since(start))

	return &MsetEncoding{
		tensorEncoding: newTensorEncoding(encoded, ts),
		bits:           n,
	}, nil
}

func msetPositions(width, n, j int) (src, a, b uint) {
	return uint(width - 2 - j), uint(2*n - 1 - j), uint(n - 1 - j)
}

// MsetEncoding decodes by a per-bit majority vote over the three copies and
// writes the winner back to all of them.
//
// A single corrupted copy is corrected. Two corrupted copies of the same bit
// silently win the vote; no detection beyond the majority is attempted.
type MsetEncoding struct {
	tensorEncoding
	bits int
}

func (e *MsetEncoding) Decode() tensor.List {
	return e.decode(e.decodeTensors)
}

func (e *MsetEncoding) decodeTensors(encoded tensor.List) tensor.List {
	out := encoded.Clone()
	outvoted := 0
	mapWords(out, func(w uint64, width int) uint64 {
		for j := 0; j < e.bits; j++ {
			src, a, b := msetPositions(width, e.bits, j)
			x, y, z := (w>>src)&1, (w>>a)&1, (w>>b)&1
			m := x&y | x&z | y&z
			if x != y || x != z {
				outvoted++
			}
			w = w&^(1<<src|1<<a|1<<b) | m<<src | m<<a | m<<b
		}
		return w
	})
	metrics.RecordOutvoted(outvoted)
	return out
}

func (e *MsetEncoding) Clone() Encoding {
	return &MsetEncoding{
		tensorEncoding: e.tensorEncoding.clone(),
		bits:           e.bits,
	}
}
