package model

import (
	"fmt"

	"github.com/rezzubs/faultforge/internal/gguf"
)

const architecture = "linear"

// SaveGGUF writes the model weights and their dimensions to path.
func SaveGGUF(path string, m *Model) error {
	w := gguf.NewWriter()
	w.SetString("general.architecture", architecture)
	w.SetString("general.name", "nearest-mean")
	w.SetUint32(architecture+".classes", uint32(m.Classes()))
	w.SetUint32(architecture+".features", uint32(m.Features()))
	if err := w.AddTensor(WeightName, m.Weight); err != nil {
		return err
	}
	if err := w.AddTensor(BiasName, m.Bias); err != nil {
		return err
	}
	return w.WriteFile(path)
}

// LoadGGUF reads a model written by SaveGGUF, or any GGUF file holding
// F32/F16 classifier.weight and classifier.bias tensors.
func LoadGGUF(path string) (*Model, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if missing := gguf.NewMetadataAnalyzer(f).FindMissingTensors([]string{WeightName, BiasName}); len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing tensors %v", path, missing)
	}
	ts, err := f.LoadTensors(WeightName, BiasName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(ts[0], ts[1])
}
