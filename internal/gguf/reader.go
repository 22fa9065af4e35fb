package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// LoadFile reads a GGUF file into memory and parses headers/metadata.
func LoadFile(path string) (*GGUFFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes a GGUF v2 or v3 image. Tensor data slices alias data.
func Parse(data []byte) (*GGUFFile, error) {
	c := &cursor{data: data}
	file := &GGUFFile{Data: data, KV: make(map[string]interface{})}

	h := &file.Header
	if h.Magic = c.u32(); c.err == nil && h.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: h.Magic}
	}
	if h.Version = c.u32(); c.err == nil && (h.Version < 2 || h.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: h.Version}
	}
	h.TensorCount = c.u64()
	h.KVCount = c.u64()
	if c.err != nil {
		return nil, fmt.Errorf("header: %w", c.err)
	}

	for i := uint64(0); i < h.KVCount; i++ {
		key := c.str()
		val := c.value(GGUFMetadataValueType(c.u32()))
		if c.err != nil {
			return nil, fmt.Errorf("kv %d (%q): %w", i, key, c.err)
		}
		file.KV[key] = val
	}

	for i := uint64(0); i < h.TensorCount; i++ {
		info := &TensorInfo{Name: c.str()}
		dims := uint64(c.u32())
		if !c.fits(dims * 8) {
			return nil, fmt.Errorf("tensor %d (%q) dims: %w", i, info.Name, c.err)
		}
		info.Dimensions = make([]uint64, dims)
		for j := range info.Dimensions {
			info.Dimensions[j] = c.u64()
		}
		info.Type = GGMLType(c.u32())
		info.Offset = c.u64()
		if c.err != nil {
			return nil, fmt.Errorf("tensor %d (%q): %w", i, info.Name, c.err)
		}
		file.Tensors = append(file.Tensors, info)
	}

	// Tensor offsets count from the aligned end of the info block.
	file.DataOffset = alignUp(c.off, file.alignment())
	size := uint64(len(data))
	for _, t := range file.Tensors {
		start := file.DataOffset + t.Offset
		if start > size || t.SizeBytes() > size-start {
			return nil, fmt.Errorf("tensor %s: data out of bounds", t.Name)
		}
		t.Data = data[start:]
	}
	return file, nil
}

func (f *GGUFFile) alignment() uint64 {
	switch v := f.KV["general.alignment"].(type) {
	case uint32:
		if v > 0 {
			return uint64(v)
		}
	case uint64:
		if v > 0 {
			return v
		}
	}
	return DefaultAlignment
}

func alignUp(offset, alignment uint64) uint64 {
	if r := offset % alignment; r != 0 {
		return offset + alignment - r
	}
	return offset
}

// cursor reads little-endian values from a byte slice. The first short read
// sets err; every later read returns a zero value.
type cursor struct {
	data []byte
	off  uint64
	err  error
}

func (c *cursor) fits(n uint64) bool {
	if c.err == nil && n > uint64(len(c.data))-c.off {
		c.err = io.ErrUnexpectedEOF
	}
	return c.err == nil
}

func (c *cursor) take(n uint64) []byte {
	if !c.fits(n) {
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) str() string {
	n := c.u64()
	return string(c.take(n))
}

func (c *cursor) value(typ GGUFMetadataValueType) interface{} {
	if c.err != nil {
		return nil
	}
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return c.u8()
	case GGUFMetadataValueTypeInt8:
		return int8(c.u8())
	case GGUFMetadataValueTypeBool:
		return c.u8() != 0
	case GGUFMetadataValueTypeUint16:
		return c.u16()
	case GGUFMetadataValueTypeInt16:
		return int16(c.u16())
	case GGUFMetadataValueTypeUint32:
		return c.u32()
	case GGUFMetadataValueTypeInt32:
		return int32(c.u32())
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(c.u32())
	case GGUFMetadataValueTypeUint64:
		return c.u64()
	case GGUFMetadataValueTypeInt64:
		return int64(c.u64())
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(c.u64())
	case GGUFMetadataValueTypeString:
		return c.str()
	case GGUFMetadataValueTypeArray:
		elem := GGUFMetadataValueType(c.u32())
		n := c.u64()
		// every element takes at least one byte
		if !c.fits(n) {
			return nil
		}
		arr := make([]interface{}, 0, n)
		for i := uint64(0); i < n && c.err == nil; i++ {
			arr = append(arr, c.value(elem))
		}
		return arr
	default:
		c.err = fmt.Errorf("unsupported metadata type: %d", typ)
		return nil
	}
}

// Tensor looks up a tensor by name.
func (f *GGUFFile) Tensor(name string) (*TensorInfo, bool) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}
