package gguf

import (
	"strings"
	"testing"
)

func TestMetadataAnalyzerBasic(t *testing.T) {
	file := &GGUFFile{
		KV: map[string]interface{}{
			"general.architecture": "linear",
			"general.name":         "blobs-nearest-mean",
			"linear.classes":       uint32(10),
			"linear.features":      uint64(64),
		},
		Tensors: []*TensorInfo{
			{
				Name:       "classifier.weight",
				Dimensions: []uint64{64, 10},
				Type:       GGMLTypeF32,
			},
			{
				Name:       "classifier.bias",
				Dimensions: []uint64{10},
				Type:       GGMLTypeF16,
			},
		},
	}

	report := NewMetadataAnalyzer(file).Analyze()

	if report.Architecture != "linear" {
		t.Errorf("Expected architecture 'linear', got '%s'", report.Architecture)
	}
	if report.ModelName != "blobs-nearest-mean" {
		t.Errorf("Expected model name 'blobs-nearest-mean', got '%s'", report.ModelName)
	}
	if report.TensorCount != 2 {
		t.Errorf("Expected 2 tensors, got %d", report.TensorCount)
	}
	if report.TotalParameters != 650 {
		t.Errorf("Expected 650 parameters, got %d", report.TotalParameters)
	}
	if report.MemoryEstimate != 640*4+10*2 {
		t.Errorf("Expected %d bytes, got %d", 640*4+10*2, report.MemoryEstimate)
	}
	if report.Types["F32"] != 1 || report.Types["F16"] != 1 {
		t.Errorf("unexpected type counts %v", report.Types)
	}
	if !strings.Contains(report.String(), "F16=1 F32=1") {
		t.Errorf("report does not list types:\n%s", report)
	}

	if n, ok := file.GetUint("missing", "linear.classes"); !ok || n != 10 {
		t.Errorf("GetUint fallback = %d (%v), want 10", n, ok)
	}
	if n, ok := file.GetUint("linear.features"); !ok || n != 64 {
		t.Errorf("GetUint = %d (%v), want 64", n, ok)
	}
	if _, ok := file.GetUint("general.name"); ok {
		t.Error("GetUint accepted a string value")
	}
}

func TestFindMissingTensors(t *testing.T) {
	file := &GGUFFile{
		KV: make(map[string]interface{}),
		Tensors: []*TensorInfo{
			{Name: "classifier.weight"},
		},
	}

	missing := NewMetadataAnalyzer(file).FindMissingTensors([]string{"classifier.weight", "classifier.bias"})
	if len(missing) != 1 || missing[0] != "classifier.bias" {
		t.Errorf("Expected [classifier.bias], got %v", missing)
	}
}
