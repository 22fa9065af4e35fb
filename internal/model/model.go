// Package model is the reference workload for fault injection: a linear
// classifier over a synthetic dataset, exposed as a system.System.
package model

import (
	"fmt"
	"math"

	"github.com/rezzubs/faultforge/internal/tensor"
)

const (
	WeightName = "classifier.weight"
	BiasName   = "classifier.bias"
)

// Model is a linear classifier. Weight has shape [classes, features] and
// Bias has shape [classes]; both share one float dtype.
type Model struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

func New(weight, bias *tensor.Tensor) (*Model, error) {
	if len(weight.Shape) != 2 || len(bias.Shape) != 1 {
		return nil, fmt.Errorf("model: weight must be 2-D and bias 1-D, got %v and %v", weight.Shape, bias.Shape)
	}
	if weight.Shape[0] != bias.Shape[0] {
		return nil, fmt.Errorf("model: %d weight rows for %d biases", weight.Shape[0], bias.Shape[0])
	}
	if !weight.DType.IsFloat() || weight.DType != bias.DType {
		return nil, fmt.Errorf("model: weight %v and bias %v must share a float dtype", weight.DType, bias.DType)
	}
	return &Model{Weight: weight, Bias: bias}, nil
}

// NewNearestMean builds the closed-form nearest class mean classifier:
// w_c = mu_c and b_c = -|mu_c|^2 / 2, so the largest score belongs to the
// closest class mean.
func NewNearestMean(ds *Dataset, dtype tensor.DType) (*Model, error) {
	sums := make([]float64, ds.Classes*ds.Features)
	counts := make([]int, ds.Classes)
	for i := 0; i < ds.Samples(); i++ {
		c := ds.Y[i]
		counts[c]++
		for f, v := range ds.Row(i) {
			sums[c*ds.Features+f] += float64(v)
		}
	}

	w := make([]float32, ds.Classes*ds.Features)
	b := make([]float32, ds.Classes)
	for c := 0; c < ds.Classes; c++ {
		if counts[c] == 0 {
			return nil, fmt.Errorf("model: class %d has no samples", c)
		}
		norm := 0.0
		for f := 0; f < ds.Features; f++ {
			mu := sums[c*ds.Features+f] / float64(counts[c])
			w[c*ds.Features+f] = float32(mu)
			norm += mu * mu
		}
		b[c] = float32(-norm / 2)
	}

	weight, err := tensor.FromFloat32(dtype, []int{ds.Classes, ds.Features}, w)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.FromFloat32(dtype, []int{ds.Classes}, b)
	if err != nil {
		return nil, err
	}
	return New(weight, bias)
}

func (m *Model) Classes() int {
	return m.Weight.Shape[0]
}

func (m *Model) Features() int {
	return m.Weight.Shape[1]
}

func (m *Model) DType() tensor.DType {
	return m.Weight.DType
}

// Tensors returns the live parameter tensors. Flipping their bits changes
// the model.
func (m *Model) Tensors() tensor.List {
	return tensor.List{m.Weight, m.Bias}
}

func (m *Model) Clone() *Model {
	return &Model{Weight: m.Weight.Clone(), Bias: m.Bias.Clone()}
}

// predictor holds widened parameters for repeated scoring.
type predictor struct {
	w, b     []float32
	features int
}

func (m *Model) predictor() predictor {
	return predictor{w: m.Weight.Float32s(), b: m.Bias.Float32s(), features: m.Features()}
}

// predict returns the class with the largest score. NaN scores never win;
// -1 means every score was NaN.
func (p predictor) predict(x []float32) int {
	best, bestScore := -1, math.Inf(-1)
	for c := range p.b {
		s := float64(p.b[c])
		row := p.w[c*p.features : (c+1)*p.features]
		for f, v := range x {
			s += float64(row[f]) * float64(v)
		}
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Predict classifies one sample.
func (m *Model) Predict(x []float32) int {
	return m.predictor().predict(x)
}

// Accuracy returns the percentage of ds classified correctly.
func (m *Model) Accuracy(ds *Dataset) float64 {
	if ds.Samples() == 0 {
		return 0
	}
	p := m.predictor()
	correct := 0
	for i := 0; i < ds.Samples(); i++ {
		if p.predict(ds.Row(i)) == ds.Y[i] {
			correct++
		}
	}
	return 100 * float64(correct) / float64(ds.Samples())
}
