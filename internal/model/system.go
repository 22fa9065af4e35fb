package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/system"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// System pairs a classifier with its evaluation set. Its data tensors alias
// the model storage, so the default injection helper applies.
type System struct {
	model   *Model
	dataset *Dataset
}

var _ system.System[*Model] = (*System)(nil)

func NewSystem(m *Model, ds *Dataset) (*System, error) {
	if m.Features() != ds.Features || m.Classes() != ds.Classes {
		return nil, fmt.Errorf("model is %dx%d but dataset %s has %d classes of %d features",
			m.Classes(), m.Features(), ds.Name, ds.Classes, ds.Features)
	}
	return &System{model: m, dataset: ds}, nil
}

func (s *System) Data() *Model {
	return s.model
}

func (s *System) Dataset() *Dataset {
	return s.dataset
}

func (s *System) Accuracy(m *Model) float64 {
	return m.Accuracy(s.dataset)
}

func (s *System) DataTensors(m *Model) tensor.List {
	return m.Tensors()
}

func (s *System) InjectNFaults(m *Model, n int, rng *rand.Rand) ([]faults.Address, error) {
	return system.InjectNFaults[*Model](s, m, n, rng)
}

func (s *System) Metadata() map[string]string {
	return map[string]string{
		"model":    "linear",
		"dataset":  s.dataset.Name,
		"dtype":    s.model.DType().String(),
		"classes":  fmt.Sprint(s.model.Classes()),
		"features": fmt.Sprint(s.model.Features()),
		"samples":  fmt.Sprint(s.dataset.Samples()),
	}
}

func (s *System) CloneData(m *Model) *Model {
	return m.Clone()
}

func (s *System) TotalBitsCount() int {
	return system.TotalBitsCount[*Model](s)
}
