package tensor

import "fmt"

// List is an ordered sequence of tensors. The order defines the global bit
// addressing used by fault injection and the stream codecs.
type List []*Tensor

// Bits returns the total number of addressable bits.
func (l List) Bits() int {
	total := 0
	for _, t := range l {
		total += t.Bits()
	}
	return total
}

// Clone deep copies every tensor.
func (l List) Clone() List {
	out := make(List, len(l))
	for i, t := range l {
		out[i] = t.Clone()
	}
	return out
}

// Equal reports bitwise equality of two lists.
func (l List) Equal(o List) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if !l[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// CopyFrom copies src into l tensor by tensor without reallocating.
func (l List) CopyFrom(src List) error {
	if len(l) != len(src) {
		return fmt.Errorf("list length mismatch: %d vs %d", len(l), len(src))
	}
	for i := range l {
		if err := l[i].CopyFrom(src[i]); err != nil {
			return fmt.Errorf("tensor %d: %w", i, err)
		}
	}
	return nil
}

// DTypes returns the distinct dtypes in order of first appearance.
func (l List) DTypes() []DType {
	var out []DType
	seen := make(map[DType]bool)
	for _, t := range l {
		if !seen[t.DType] {
			seen[t.DType] = true
			out = append(out, t.DType)
		}
	}
	return out
}
