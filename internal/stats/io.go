package stats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/rezzubs/faultforge/internal/metrics"
)

// CompressedExt marks zstd compressed experiment files.
const CompressedExt = ".zst"

// Encode writes x as JSON.
func (x *Experiment) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(x)
}

// ErrNotExperiment is returned by Decode for JSON documents that do not
// have the experiment layout.
var ErrNotExperiment = errors.New("not an experiment document")

// Decode reads one JSON experiment. Unknown fields and documents without
// "metadata" or "total_bits" are rejected.
func Decode(r io.Reader) (*Experiment, error) {
	var doc struct {
		Metadata  map[string]string `json:"metadata"`
		TotalBits *int              `json:"total_bits"`
		Entries   []Entry           `json:"entries"`
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotExperiment, err)
	}
	if doc.Metadata == nil || doc.TotalBits == nil {
		return nil, fmt.Errorf("%w: missing metadata or total_bits", ErrNotExperiment)
	}
	return &Experiment{Metadata: doc.Metadata, TotalBits: *doc.TotalBits, Entries: doc.Entries}, nil
}

// Save writes x to path, compressing with zstd when path ends in ".zst".
// The file is replaced atomically.
func (x *Experiment) Save(path string) error {
	var buf bytes.Buffer
	if strings.HasSuffix(path, CompressedExt) {
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return err
		}
		if err := x.Encode(zw); err != nil {
			_ = zw.Close()
			return fmt.Errorf("encode %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress %s: %w", path, err)
		}
	} else if err := x.Encode(&buf); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".experiment-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	metrics.RecordExperimentSaved()
	return nil
}

// Load reads an experiment written by Save.
func Load(path string) (*Experiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader = f
	if strings.HasSuffix(path, CompressedExt) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	x, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return x, nil
}
