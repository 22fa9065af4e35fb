package tensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

type DType uint8

const (
	Float32 DType = iota
	Float16
	Uint8
)

// Bits returns the element width in bits.
func (d DType) Bits() int {
	switch d {
	case Float32:
		return 32
	case Float16:
		return 16
	case Uint8:
		return 8
	default:
		panic(fmt.Sprintf("tensor: unknown dtype %d", d))
	}
}

// Size returns the element width in bytes.
func (d DType) Size() int {
	return d.Bits() / 8
}

// IsFloat reports whether elements are binary floating point values.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float16
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Uint8:
		return "Uint8"
	default:
		return fmt.Sprintf("UNKNOWN_DTYPE_%d", d)
	}
}

// ParseDType accepts the names produced by DType.String as well as the
// short forms f32, f16 and u8.
func ParseDType(s string) (DType, error) {
	switch s {
	case "Float32", "float32", "f32", "F32":
		return Float32, nil
	case "Float16", "float16", "f16", "F16":
		return Float16, nil
	case "Uint8", "uint8", "u8":
		return Uint8, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// Tensor is a dense array of fixed width elements stored as raw little-endian
// bytes. Every element can be reinterpreted as an unsigned integer word,
// which is how the codecs and the fault injector address individual bits.
type Tensor struct {
	Shape []int
	DType DType
	Data  []byte
}

// New allocates a zeroed tensor.
func New(dtype DType, shape ...int) *Tensor {
	n := numElements(shape)
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: dtype,
		Data:  make([]byte, n*dtype.Size()),
	}
}

// FromFloat32 builds a tensor of the given float dtype from float32 values.
// Float16 values are rounded to nearest even.
func FromFloat32(dtype DType, shape []int, values []float32) (*Tensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("dtype %v is not a float type", dtype)
	}
	if n := numElements(shape); n != len(values) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(values))
	}
	t := New(dtype, shape...)
	for i, v := range values {
		t.SetFloat32(i, v)
	}
	return t, nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data) / t.DType.Size()
}

// Bits returns the number of addressable bits.
func (t *Tensor) Bits() int {
	return len(t.Data) * 8
}

// Word returns element i reinterpreted as an unsigned integer.
func (t *Tensor) Word(i int) uint64 {
	switch t.DType {
	case Float32:
		return uint64(binary.LittleEndian.Uint32(t.Data[i*4:]))
	case Float16:
		return uint64(binary.LittleEndian.Uint16(t.Data[i*2:]))
	case Uint8:
		return uint64(t.Data[i])
	default:
		panic(fmt.Sprintf("tensor: unknown dtype %d", t.DType))
	}
}

// SetWord overwrites element i with the low bits of w.
func (t *Tensor) SetWord(i int, w uint64) {
	switch t.DType {
	case Float32:
		binary.LittleEndian.PutUint32(t.Data[i*4:], uint32(w))
	case Float16:
		binary.LittleEndian.PutUint16(t.Data[i*2:], uint16(w))
	case Uint8:
		t.Data[i] = byte(w)
	default:
		panic(fmt.Sprintf("tensor: unknown dtype %d", t.DType))
	}
}

// Bit reports bit b (0 = least significant) of element i.
func (t *Tensor) Bit(i, b int) bool {
	return t.Data[i*t.DType.Size()+b/8]&(1<<(b%8)) != 0
}

// FlipBit toggles bit b of element i.
func (t *Tensor) FlipBit(i, b int) {
	t.Data[i*t.DType.Size()+b/8] ^= 1 << (b % 8)
}

// Float32 returns element i as a float32. Uint8 elements are converted
// numerically.
func (t *Tensor) Float32(i int) float32 {
	switch t.DType {
	case Float32:
		return math.Float32frombits(uint32(t.Word(i)))
	case Float16:
		return float16.Frombits(uint16(t.Word(i))).Float32()
	default:
		return float32(t.Word(i))
	}
}

// SetFloat32 stores v into element i, converting to the tensor dtype.
func (t *Tensor) SetFloat32(i int, v float32) {
	switch t.DType {
	case Float32:
		t.SetWord(i, uint64(math.Float32bits(v)))
	case Float16:
		t.SetWord(i, uint64(float16.Fromfloat32(v).Bits()))
	default:
		t.SetWord(i, uint64(v))
	}
}

// Float32s copies all elements out as float32 values.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = t.Float32(i)
	}
	return out
}

// Clone returns a deep copy that shares no memory with t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		DType: t.DType,
		Data:  append([]byte(nil), t.Data...),
	}
}

// SameLayout reports whether o has the same dtype and shape.
func (t *Tensor) SameLayout(o *Tensor) bool {
	if t.DType != o.DType || len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Equal compares layout and storage bit for bit. NaN payloads are compared
// as raw bits.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.SameLayout(o) && bytes.Equal(t.Data, o.Data)
}

// CopyFrom overwrites the storage of t with the storage of src in place, so
// that views aliasing t observe the new contents.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.SameLayout(src) {
		return fmt.Errorf("layout mismatch: %v%v vs %v%v", t.DType, t.Shape, src.DType, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %v)", t.DType, t.Shape)
}
