package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/stats"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	x := stats.New(map[string]string{"scheme": "none"}, 64)
	x.Record(50, 1, []faults.Address{{Tensor: 0, Element: 1, Bit: 2}})
	path := filepath.Join(dir, "x.json")
	require.NoError(t, x.Save(path))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("junk"), 0o644))

	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{dir}, &out))
	assert.Equal(t, "stripped 1 files, skipped 1\n", out.String())

	got, err := stats.Load(path)
	require.NoError(t, err)
	assert.Empty(t, got.Entries[0].FaultAddresses)
	assert.Equal(t, 1, got.Entries[0].Faults)

	assert.Equal(t, 1, run([]string{filepath.Join(dir, "missing")}, &out))
}
