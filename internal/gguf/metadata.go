package gguf

import (
	"fmt"
	"sort"
	"strings"
)

type MetadataAnalyzer struct {
	file *GGUFFile
}

func NewMetadataAnalyzer(file *GGUFFile) *MetadataAnalyzer {
	return &MetadataAnalyzer{file: file}
}

type AnalysisReport struct {
	Architecture    string
	ModelName       string
	TensorCount     int
	TotalParameters int64
	MemoryEstimate  int64
	Types           map[string]int // tensor count per GGML type
}

func (a *MetadataAnalyzer) Analyze() *AnalysisReport {
	report := &AnalysisReport{
		TensorCount: len(a.file.Tensors),
		Types:       make(map[string]int),
	}

	if arch, ok := a.file.KV["general.architecture"].(string); ok {
		report.Architecture = arch
	}
	if name, ok := a.file.KV["general.name"].(string); ok {
		report.ModelName = name
	}

	for _, t := range a.file.Tensors {
		report.TotalParameters += int64(t.NumElements())
		report.MemoryEstimate += int64(t.SizeBytes())
		report.Types[t.Type.String()]++
	}
	return report
}

// GetUint returns the first of keys holding an unsigned or signed integer.
func (f *GGUFFile) GetUint(keys ...string) (uint64, bool) {
	for _, key := range keys {
		if val, ok := f.KV[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v, true
			case int64:
				return uint64(v), true
			case uint32:
				return uint64(v), true
			case int32:
				return uint64(v), true
			}
		}
	}
	return 0, false
}

func (f *GGUFFile) GetString(key string) (string, bool) {
	s, ok := f.KV[key].(string)
	return s, ok
}

func (r *AnalysisReport) String() string {
	types := make([]string, 0, len(r.Types))
	for t, n := range r.Types {
		types = append(types, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(types)
	return fmt.Sprintf(`GGUF Model Analysis Report
============================
Architecture:     %s
Model Name:       %s
Total Tensors:    %d
Tensor Types:     %s
Total Parameters: %d
Memory Estimate:  %d bytes
`,
		r.Architecture,
		r.ModelName,
		r.TensorCount,
		strings.Join(types, " "),
		r.TotalParameters,
		r.MemoryEstimate,
	)
}

// FindMissingTensors returns the required names that the file lacks.
func (a *MetadataAnalyzer) FindMissingTensors(required []string) []string {
	existing := make(map[string]bool)
	for _, t := range a.file.Tensors {
		existing[t.Name] = true
	}

	var missing []string
	for _, name := range required {
		if !existing[name] {
			missing = append(missing, name)
		}
	}

	return missing
}
