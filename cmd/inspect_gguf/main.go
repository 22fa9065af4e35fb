// Command inspect_gguf prints the header keys and tensors of a GGUF file and
// checks whether it holds a faultforge classifier.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rezzubs/faultforge/internal/gguf"
	"github.com/rezzubs/faultforge/internal/model"
)

func main() {
	modelPath := flag.String("model", "", "Path to GGUF model file")
	filter := flag.String("filter", "", "Only list tensors whose name contains this string")
	flag.Parse()

	if *modelPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -model flag is required")
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*modelPath, *filter, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(path, filter string, out io.Writer) error {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	fmt.Fprint(out, gguf.NewMetadataAnalyzer(f).Analyze())

	fmt.Fprintln(out, "\n=== GGUF Header Keys ===")
	keys := make([]string, 0, len(f.KV))
	for k := range f.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%-30s | %v\n", k, f.KV[k])
	}

	fmt.Fprintln(out, "\n=== Tensors ===")
	for _, t := range f.Tensors {
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		fmt.Fprintf(out, "%-30s %-5s dims=%v offset=%d\n", t.Name, t.Type, t.Dimensions, t.Offset)
	}

	missing := gguf.NewMetadataAnalyzer(f).FindMissingTensors([]string{model.WeightName, model.BiasName})
	if len(missing) > 0 {
		fmt.Fprintf(out, "\nnot a faultforge classifier: missing %s\n", strings.Join(missing, ", "))
		return nil
	}
	m, err := model.LoadGGUF(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nfaultforge classifier: %d classes, %d features, %s\n", m.Classes(), m.Features(), m.DType())
	return nil
}
