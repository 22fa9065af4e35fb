package model

import (
	"fmt"
	"math/rand/v2"
)

// Dataset is a dense classification set: Samples rows of Features values
// each, row major, with a class label per row.
type Dataset struct {
	Name     string
	Features int
	Classes  int
	X        []float32
	Y        []int
}

func (d *Dataset) Samples() int {
	return len(d.Y)
}

// Row returns the features of sample i.
func (d *Dataset) Row(i int) []float32 {
	return d.X[i*d.Features : (i+1)*d.Features]
}

// BlobsConfig describes a synthetic Gaussian blob problem.
type BlobsConfig struct {
	Seed     uint64
	Classes  int
	Features int
	Samples  int
	// Spread is the standard deviation of samples around their class
	// center. Centers are drawn from a standard normal scaled by Separation.
	Spread     float64
	Separation float64
}

func DefaultBlobs() BlobsConfig {
	return BlobsConfig{
		Seed:       1,
		Classes:    10,
		Features:   32,
		Samples:    2000,
		Spread:     1.0,
		Separation: 1.0,
	}
}

// NewBlobs generates a dataset from cfg. The same config always yields the
// same samples.
func NewBlobs(cfg BlobsConfig) (*Dataset, error) {
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("blobs: need at least 2 classes, got %d", cfg.Classes)
	}
	if cfg.Features < 1 || cfg.Samples < 1 {
		return nil, fmt.Errorf("blobs: features (%d) and samples (%d) must be positive", cfg.Features, cfg.Samples)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0xb10b5))

	centers := make([]float64, cfg.Classes*cfg.Features)
	for i := range centers {
		centers[i] = rng.NormFloat64() * cfg.Separation
	}

	ds := &Dataset{
		Name:     fmt.Sprintf("blobs-%dc%df-s%d", cfg.Classes, cfg.Features, cfg.Seed),
		Features: cfg.Features,
		Classes:  cfg.Classes,
		X:        make([]float32, cfg.Samples*cfg.Features),
		Y:        make([]int, cfg.Samples),
	}
	for i := 0; i < cfg.Samples; i++ {
		c := i % cfg.Classes
		ds.Y[i] = c
		row := ds.Row(i)
		for f := range row {
			row[f] = float32(centers[c*cfg.Features+f] + rng.NormFloat64()*cfg.Spread)
		}
	}
	return ds, nil
}
