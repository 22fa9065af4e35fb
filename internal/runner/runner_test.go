package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezzubs/faultforge/internal/config"
	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/model"
	"github.com/rezzubs/faultforge/internal/stats"
	"github.com/rezzubs/faultforge/internal/tensor"
)

func testSystem(t *testing.T) *model.System {
	t.Helper()
	cfg := model.DefaultBlobs()
	cfg.Classes = 4
	cfg.Features = 8
	cfg.Samples = 200
	ds, err := model.NewBlobs(cfg)
	require.NoError(t, err)
	m, err := model.NewNearestMean(ds, tensor.Float32)
	require.NoError(t, err)
	sys, err := model.NewSystem(m, ds)
	require.NoError(t, err)
	return sys
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BERs = []float64{0, 0.01}
	cfg.Runs = 6
	cfg.Seed = 42
	cfg.Workers = 1
	cfg.RecordFaults = true
	return cfg
}

func TestPoints(t *testing.T) {
	cfg := testConfig()
	cfg.FaultCounts = []int{3}
	pts := Points(cfg)
	require.Len(t, pts, 3)

	assert.Equal(t, 0, pts[0].FaultCount(1000))
	assert.Equal(t, 10, pts[1].FaultCount(1000))
	assert.Equal(t, 1, pts[1].FaultCount(50))
	assert.Equal(t, 3, pts[2].FaultCount(1000))

	md := map[string]string{}
	pts[1].AddMetadata(md)
	assert.Equal(t, map[string]string{"ber": "1.00e-02"}, md)
	md = map[string]string{}
	pts[2].AddMetadata(md)
	assert.Equal(t, map[string]string{"faults": "3"}, md)
}

func TestRunIsDeterministicAcrossWorkers(t *testing.T) {
	sys := testSystem(t)
	schemes := []string{"none", "secded:32", "ep:d3p1+secded:64"}

	cfg := testConfig()
	serial, err := New[*model.Model](cfg).Run(context.Background(), sys, schemes)
	require.NoError(t, err)

	cfg.Workers = 4
	parallel, err := New[*model.Model](cfg).Run(context.Background(), sys, schemes)
	require.NoError(t, err)

	require.Len(t, serial, len(schemes)*len(cfg.BERs))
	assert.Equal(t, serial, parallel)

	cfg.Seed = 43
	other, err := New[*model.Model](cfg).Run(context.Background(), sys, schemes[:1])
	require.NoError(t, err)
	assert.NotEqual(t, serial[1].Entries, other[1].Entries, "a different seed picks different faults")
}

func TestRunExperiments(t *testing.T) {
	sys := testSystem(t)
	cfg := testConfig()
	cfg.FaultCounts = []int{1}

	before := testutil.ToFloat64(metrics.TrialsTotal.WithLabelValues("secded:32"))
	xs, err := New[*model.Model](cfg).Run(context.Background(), sys, []string{"none", "secded:32"})
	require.NoError(t, err)
	require.Len(t, xs, 6)
	assert.Equal(t, 18.0, testutil.ToFloat64(metrics.TrialsTotal.WithLabelValues("secded:32"))-before)

	baseline := sys.Accuracy(sys.Data())
	for _, x := range xs {
		require.Len(t, x.Entries, cfg.Runs)
		assert.Equal(t, "linear", x.Metadata["model"])
	}

	none := xs[0]
	assert.Equal(t, "none", none.Metadata["scheme"])
	assert.Equal(t, "false", none.Metadata["protected"])
	assert.Equal(t, "0.00e+00", none.Metadata["ber"])
	assert.Equal(t, sys.TotalBitsCount(), none.TotalBits)
	for _, e := range none.Entries {
		assert.Equal(t, 0, e.Faults)
		assert.Equal(t, baseline, e.Accuracy)
	}

	ber := xs[1]
	want := int(0.01*float64(ber.TotalBits) + 0.5)
	for _, e := range ber.Entries {
		assert.Equal(t, want, e.Faults)
		assert.Len(t, e.FaultAddresses, want)
	}

	// a single flip is always corrected
	single := xs[5]
	assert.Equal(t, "secded:32", single.Metadata["scheme"])
	assert.Equal(t, "true", single.Metadata["protected"])
	assert.Equal(t, "1", single.Metadata["faults"])
	assert.Greater(t, single.TotalBits, none.TotalBits)
	for _, e := range single.Entries {
		assert.Equal(t, baseline, e.Accuracy)
	}
	assert.Equal(t, stats.CategoryECC, stats.CategoryOf(single.Metadata))
}

func TestRunDropsAddressesUnlessRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.RecordFaults = false
	xs, err := New[*model.Model](cfg).Run(context.Background(), testSystem(t), []string{"none"})
	require.NoError(t, err)
	for _, e := range xs[1].Entries {
		assert.NotZero(t, e.Faults)
		assert.Nil(t, e.FaultAddresses)
	}
}

func TestRunSavesExperiments(t *testing.T) {
	cfg := testConfig()
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.Compress = true
	xs, err := New[*model.Model](cfg).Run(context.Background(), testSystem(t), []string{"mset:1"})
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.OutDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, x := range xs {
		path := filepath.Join(cfg.OutDir, stats.Filename(x.Metadata)+stats.CompressedExt)
		got, err := stats.Load(path)
		require.NoError(t, err)
		assert.Equal(t, x, got)
	}
}

func TestRunInsufficientBits(t *testing.T) {
	sys := testSystem(t)
	cfg := testConfig()
	cfg.BERs = nil
	cfg.FaultCounts = []int{sys.TotalBitsCount() + 1}

	// the encoded system is larger, so only the bare scheme fails
	xs, err := New[*model.Model](cfg).Run(context.Background(), sys, []string{"secded:64", "none"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrInsufficientBits))
	require.Len(t, xs, 1)
	assert.Equal(t, "secded:64", xs[0].Metadata["scheme"])
}

func TestRunErrors(t *testing.T) {
	sys := testSystem(t)
	cfg := testConfig()

	_, err := New[*model.Model](cfg).Run(context.Background(), sys, []string{"raid5"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New[*model.Model](cfg).Run(ctx, sys, []string{"none"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPointSeedSeparatesPoints(t *testing.T) {
	a := pointSeed(1, "none", Point{BER: 0.01})
	assert.Equal(t, a, pointSeed(1, "none", Point{BER: 0.01}))
	assert.NotEqual(t, a, pointSeed(1, "secded:64", Point{BER: 0.01}))
	assert.NotEqual(t, a, pointSeed(1, "none", Point{BER: 0.02}))
	assert.NotEqual(t, a, pointSeed(2, "none", Point{BER: 0.01}))
	assert.NotEqual(t, pointSeed(1, "none", Point{Faults: 1, Absolute: true}),
		pointSeed(1, "none", Point{BER: 1}))
}

func TestOnExperiment(t *testing.T) {
	cfg := testConfig()
	schemes := []string{"none", "mset:1"}
	var seen []string
	r := New[*model.Model](cfg).OnExperiment(func(x *stats.Experiment) {
		seen = append(seen, x.Metadata["scheme"]+"@"+x.Metadata["ber"])
	})
	assert.Equal(t, int64(2*2*cfg.Runs), r.PlannedTrials(schemes))

	xs, err := r.Run(context.Background(), testSystem(t), schemes)
	require.NoError(t, err)
	assert.Len(t, xs, 4)
	assert.Equal(t, []string{"none@0.00e+00", "none@1.00e-02", "mset:1@0.00e+00", "mset:1@1.00e-02"}, seen)
}
