// Package faults implements uniform random bit-flip injection over a list of
// tensors.
//
// The address space of a list is the concatenation of every tensor's bits in
// list order: element by element, and inside an element from the least
// significant bit upwards. Sampling is done without replacement so a request
// for n faults always toggles exactly n distinct bits.
package faults

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/rezzubs/faultforge/internal/tensor"
)

var (
	// ErrInsufficientBits is returned when more unique addresses are
	// requested than the list contains.
	ErrInsufficientBits = errors.New("faults: not enough addressable bits")
	ErrNegativeCount    = errors.New("faults: negative fault count")
)

// Address identifies a single bit in a tensor list.
type Address struct {
	Tensor  int `json:"t"`
	Element int `json:"e"`
	Bit     int `json:"b"`
}

func (a Address) String() string {
	return fmt.Sprintf("(%d,%d,%d)", a.Tensor, a.Element, a.Bit)
}

// TotalBits returns the size of the address space of l.
func TotalBits(l tensor.List) int {
	return l.Bits()
}

// Inject flips n uniformly chosen, distinct bits of l in place and returns
// the flipped addresses in ascending global order.
func Inject(l tensor.List, n int, rng *rand.Rand) ([]Address, error) {
	addrs, err := Sample(l, n, rng)
	if err != nil {
		return nil, err
	}
	Flip(l, addrs)
	return addrs, nil
}

// Sample picks n distinct addresses without modifying l.
func Sample(l tensor.List, n int, rng *rand.Rand) ([]Address, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeCount, n)
	}
	total := TotalBits(l)
	if n > total {
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientBits, n, total)
	}
	if n == 0 {
		return nil, nil
	}
	return Resolve(l, sampleIndices(int64(total), n, rng))
}

// sampleIndices draws n distinct values from [0, total) with Floyd's
// algorithm. The result is sorted.
func sampleIndices(total int64, n int, rng *rand.Rand) []int64 {
	chosen := make(map[int64]struct{}, n)
	for j := total - int64(n); j < total; j++ {
		t := rng.Int64N(j + 1)
		if _, dup := chosen[t]; dup {
			t = j
		}
		chosen[t] = struct{}{}
	}
	out := make([]int64, 0, n)
	for idx := range chosen {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Resolve maps sorted global bit indices to addresses.
func Resolve(l tensor.List, indices []int64) ([]Address, error) {
	offsets := make([]int64, len(l)+1)
	for i, t := range l {
		offsets[i+1] = offsets[i] + int64(t.Bits())
	}
	out := make([]Address, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= offsets[len(l)] {
			return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrInsufficientBits, idx, offsets[len(l)])
		}
		ti := sort.Search(len(l), func(k int) bool { return offsets[k+1] > idx })
		local := idx - offsets[ti]
		width := int64(l[ti].DType.Bits())
		out[i] = Address{Tensor: ti, Element: int(local / width), Bit: int(local % width)}
	}
	return out, nil
}

// Flip toggles every address in l. Addresses are assumed to be valid for l.
func Flip(l tensor.List, addrs []Address) {
	for _, a := range addrs {
		l[a.Tensor].FlipBit(a.Element, a.Bit)
	}
}
