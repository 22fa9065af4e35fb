package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/metrics"
)

func sampleExperiment() *Experiment {
	x := New(map[string]string{
		"dataset":         "blobs",
		"dtype":           "Float32",
		"embedded_parity": "true",
		"ber":             "1e-03",
	}, 1000)
	x.Record(97.5, 1, []faults.Address{{Tensor: 0, Element: 4, Bit: 30}})
	x.Record(1.0/3.0, 1, []faults.Address{{Tensor: 1, Element: 0, Bit: 7}})
	x.Record(100, 1, nil)
	return x
}

func TestBitErrorRate(t *testing.T) {
	for _, k := range []int{0, 1, 7, 250} {
		x := New(nil, 1000)
		for i := 0; i < 3; i++ {
			x.Record(50, k, nil)
		}
		for _, e := range x.Entries {
			assert.Equal(t, float64(k)/1000, x.BitErrorRate(e))
		}
		assert.InDelta(t, float64(k)/1000, x.MeanBitErrorRate(), 1e-15)
	}

	// entries that only carry addresses count them
	x := New(nil, 64)
	x.Entries = append(x.Entries, Entry{Accuracy: 1, FaultAddresses: make([]faults.Address, 4)})
	assert.Equal(t, 4.0/64, x.BitErrorRate(x.Entries[0]))

	assert.Zero(t, New(nil, 0).BitErrorRate(Entry{Faults: 3}))
}

func TestMeanAccuracy(t *testing.T) {
	x := New(nil, 10)
	assert.Zero(t, x.MeanAccuracy())
	x.Record(50, 1, nil)
	x.Record(100, 1, nil)
	assert.Equal(t, 75.0, x.MeanAccuracy())
}

func TestNewCopiesMetadata(t *testing.T) {
	md := map[string]string{"a": "1"}
	x := New(md, 1)
	md["a"] = "2"
	assert.Equal(t, "1", x.Metadata["a"])
	assert.NotNil(t, New(nil, 1).Metadata)
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"x.json", "x.json.zst"} {
		t.Run(name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.ExperimentsSaved)
			x := sampleExperiment()
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, x.Save(path))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExperimentsSaved)-before)

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, x, got)
		})
	}
}

func TestCompressedFileIsZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.zst")
	require.NoError(t, sampleExperiment().Save(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, raw[:4])
}

func TestJSONLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, sampleExperiment().Save(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"total_bits":1000`)
	assert.Contains(t, s, `"fault_addresses":[{"t":0,"e":4,"b":30}]`)
	assert.Contains(t, s, `"accuracy":97.5`)
}

func TestDecodeRejectsForeignDocuments(t *testing.T) {
	for _, doc := range []string{
		`{"plot":"fig3","bers":[1e-5]}`,
		`{}`,
		`{"metadata":{"scheme":"none"}}`,
		`{"metadata":{},"total_bits":8,"entries":[],"extra":1}`,
	} {
		_, err := Decode(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrNotExperiment, doc)
	}

	x, err := Decode(strings.NewReader(`{"metadata":{},"total_bits":8,"entries":null}`))
	require.NoError(t, err)
	assert.Equal(t, 8, x.TotalBits)
	assert.Empty(t, x.Entries)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	badZst := filepath.Join(dir, "bad.json.zst")
	require.NoError(t, os.WriteFile(badZst, []byte("plain text"), 0o644))
	_, err = Load(badZst)
	assert.Error(t, err)
}

func TestStripKeepsAccuracyAndMetadata(t *testing.T) {
	for _, name := range []string{"x.json", "x.json.zst"} {
		t.Run(name, func(t *testing.T) {
			x := sampleExperiment()
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, x.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			loaded.StripFaults()
			require.NoError(t, loaded.Save(path))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, x.Metadata, got.Metadata)
			assert.Equal(t, x.TotalBits, got.TotalBits)
			require.Len(t, got.Entries, len(x.Entries))
			for i, e := range got.Entries {
				assert.Equal(t, x.Entries[i].Accuracy, e.Accuracy)
				assert.Equal(t, x.Entries[i].Faults, e.Faults)
				assert.Empty(t, e.FaultAddresses)
				assert.Equal(t, x.BitErrorRate(x.Entries[i]), got.BitErrorRate(e))
			}
		})
	}
}

func TestStripFaultsPaths(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	good1 := filepath.Join(root, "one.json")
	good2 := filepath.Join(nested, "two.json.zst")
	broken := filepath.Join(nested, "broken.json")
	require.NoError(t, sampleExperiment().Save(good1))
	require.NoError(t, sampleExperiment().Save(good2))
	require.NoError(t, os.WriteFile(broken, []byte("[]]"), 0o644))
	notes := filepath.Join(root, "notes.json")
	notesBody := []byte(`{"plot":"fig3","bers":[1e-5]}`)
	require.NoError(t, os.WriteFile(notes, notesBody, 0o644))

	loadErrors := testutil.ToFloat64(metrics.ExperimentLoadErrors)
	results, err := StripFaultsPaths([]string{root})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ExperimentLoadErrors)-loadErrors)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			assert.Contains(t, []string{broken, notes}, r.Path)
			continue
		}
		assert.Equal(t, 3, r.Entries)
		x, err := Load(r.Path)
		require.NoError(t, err)
		for _, e := range x.Entries {
			assert.Empty(t, e.FaultAddresses)
		}
	}
	assert.Equal(t, 2, failed)

	// foreign JSON is reported and left as it was
	got, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, notesBody, got)

	// plain file arguments work too
	results, err = StripFaultsPaths([]string{good1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	_, err = StripFaultsPaths([]string{filepath.Join(root, "nope")})
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	md := map[string]string{
		"protected":       "true",
		"ber":             "3.16e-05",
		"dataset":         "ImageNet",
		"dtype":           "Float32",
		"memory_overhead": "0.0%",
		"embedded_parity": "true",
		"model":           "VitBase",
	}
	assert.Equal(t,
		"dataset-ImageNet_dtype-Float32_embedded_parity-true_memory_overhead-0.0%_model-VitBase_protected-true_ber-3.16e-05.json",
		Filename(md))

	assert.Equal(t, "scheme-a-b.json", Filename(map[string]string{"scheme": "a/b"}))
	assert.Equal(t, "experiment.json", Filename(nil))
}

func TestFilenameTruncatesWithDigest(t *testing.T) {
	long := map[string]string{"description": strings.Repeat("x", 300)}
	name := Filename(long)
	assert.Len(t, name, MaxFilenameLen)
	assert.True(t, strings.HasSuffix(name, ".json"))

	other := map[string]string{"description": strings.Repeat("x", 299) + "y"}
	assert.NotEqual(t, name, Filename(other), "names sharing a prefix stay distinct")
	assert.Equal(t, name, Filename(long))
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		md   map[string]string
		want Category
	}{
		{map[string]string{"embedded_parity": "true", "chunk_size": "64"}, CategoryEPECC},
		{map[string]string{"embedded_parity": "true"}, CategoryEP},
		{map[string]string{"msb_duplicated": "true", "chunk_size": "64"}, CategoryMSETECC},
		{map[string]string{"msb_duplicated": "true"}, CategoryMSET},
		{map[string]string{"chunk_size": "64", "bit_pattern": "0xff800000"}, CategoryECC},
		{map[string]string{"dataset": "blobs"}, CategoryUnprotected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryOf(tt.md), "%v", tt.md)
	}
	assert.Len(t, Categories, 6)
}

func TestSummarize(t *testing.T) {
	mk := func(md map[string]string, faults int, accs ...float64) *Experiment {
		x := New(md, 100)
		for _, a := range accs {
			x.Record(a, faults, nil)
		}
		return x
	}
	ecc := map[string]string{"chunk_size": "64"}
	summary := Summarize([]*Experiment{
		mk(nil, 10, 20, 40),
		mk(nil, 1, 90),
		mk(ecc, 10, 80),
		mk(ecc, 10, 100, 100, 100),
		mk(ecc, 5),
	})

	require.Len(t, summary, 2)
	assert.Equal(t, []Point{
		{BER: 0.01, Accuracy: 90, Entries: 1},
		{BER: 0.1, Accuracy: 30, Entries: 2},
	}, summary[CategoryUnprotected])
	assert.Equal(t, []Point{
		{BER: 0.1, Accuracy: 95, Entries: 4},
	}, summary[CategoryECC])
}

func TestLoadDirSkipsBrokenFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, sampleExperiment().Save(filepath.Join(root, "a.json")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644))

	loaded, err := LoadDir(root)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, filepath.Join(root, "a.json"), loaded[0].Path)
	assert.Equal(t, 1000, loaded[0].TotalBits)
}
