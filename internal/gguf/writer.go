package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/rezzubs/faultforge/internal/tensor"
)

type kvPair struct {
	key   string
	typ   GGUFMetadataValueType
	value interface{}
}

type writerTensor struct {
	name string
	t    *tensor.Tensor
	typ  GGMLType
}

// Writer assembles a GGUF v3 file from string/uint32 metadata and F32/F16
// tensors. Keys and tensors are written in insertion order.
type Writer struct {
	kv      []kvPair
	tensors []writerTensor
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) SetString(key, value string) {
	w.set(kvPair{key: key, typ: GGUFMetadataValueTypeString, value: value})
}

func (w *Writer) SetUint32(key string, value uint32) {
	w.set(kvPair{key: key, typ: GGUFMetadataValueTypeUint32, value: value})
}

func (w *Writer) set(p kvPair) {
	for i := range w.kv {
		if w.kv[i].key == p.key {
			w.kv[i] = p
			return
		}
	}
	w.kv = append(w.kv, p)
}

// AddTensor queues t under name. The tensor is read when the file is written.
func (w *Writer) AddTensor(name string, t *tensor.Tensor) error {
	var typ GGMLType
	switch t.DType {
	case tensor.Float32:
		typ = GGMLTypeF32
	case tensor.Float16:
		typ = GGMLTypeF16
	default:
		return fmt.Errorf("gguf: tensor %s: cannot store dtype %v", name, t.DType)
	}
	for _, q := range w.tensors {
		if q.name == name {
			return fmt.Errorf("gguf: duplicate tensor %s", name)
		}
	}
	w.tensors = append(w.tensors, writerTensor{name: name, t: t, typ: typ})
	return nil
}

// WriteTo writes the complete file.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian

	_ = binary.Write(&buf, le, uint32(GGUFMagic))
	_ = binary.Write(&buf, le, uint32(GGUFVersion))
	_ = binary.Write(&buf, le, uint64(len(w.tensors)))

	// tensor offsets below assume the default alignment
	kv := []kvPair{{key: "general.alignment", typ: GGUFMetadataValueTypeUint32, value: uint32(DefaultAlignment)}}
	for _, p := range w.kv {
		if p.key != "general.alignment" {
			kv = append(kv, p)
		}
	}
	_ = binary.Write(&buf, le, uint64(len(kv)))
	for _, p := range kv {
		writeString(&buf, p.key)
		_ = binary.Write(&buf, le, uint32(p.typ))
		switch v := p.value.(type) {
		case string:
			writeString(&buf, v)
		case uint32:
			_ = binary.Write(&buf, le, v)
		}
	}

	offsets := make([]uint64, len(w.tensors))
	next := uint64(0)
	for i, q := range w.tensors {
		offsets[i] = next
		next = alignUp(next+uint64(len(q.t.Data)), DefaultAlignment)
	}

	for i, q := range w.tensors {
		writeString(&buf, q.name)
		// GGUF lists dimensions innermost first
		_ = binary.Write(&buf, le, uint32(len(q.t.Shape)))
		for d := len(q.t.Shape) - 1; d >= 0; d-- {
			_ = binary.Write(&buf, le, uint64(q.t.Shape[d]))
		}
		_ = binary.Write(&buf, le, uint32(q.typ))
		_ = binary.Write(&buf, le, offsets[i])
	}

	buf.Write(make([]byte, alignUp(uint64(buf.Len()), DefaultAlignment)-uint64(buf.Len())))
	dataStart := buf.Len()
	for i, q := range w.tensors {
		buf.Write(make([]byte, dataStart+int(offsets[i])-buf.Len()))
		buf.Write(q.t.Data)
	}

	return buf.WriteTo(out)
}

// WriteFile writes the file to path.
func (w *Writer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}
