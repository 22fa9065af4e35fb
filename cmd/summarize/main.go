// Command summarize loads experiment files and prints one accuracy over bit
// error rate curve per protection category.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-json"

	"github.com/rezzubs/faultforge/internal/arrowexport"
	"github.com/rezzubs/faultforge/internal/gguf"
	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/stats"
)

type options struct {
	format     string
	arrowOut   string
	flightAddr string
	ggufPath   string
	paths      []string
}

func main() {
	var opts options
	flag.StringVar(&opts.format, "format", "table", "Output format: table or json")
	flag.StringVar(&opts.arrowOut, "arrow", "", "Also write every trial as an Arrow IPC stream to this path")
	flag.StringVar(&opts.flightAddr, "flight", "", "Also upload every trial to an Arrow Flight endpoint (host:port)")
	flag.StringVar(&opts.ggufPath, "gguf", "", "Print a report of the GGUF model the experiments were run on")
	logLevel := flag.String("log-level", "WARN", "DEBUG, INFO, WARN or ERROR")
	logFormat := flag.String("log-format", "console", "console or json")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] PATH...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	opts.paths = flag.Args()
	if len(opts.paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		logger.Log.Error("Summarize failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.ggufPath != "" {
		f, err := gguf.LoadFile(opts.ggufPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, gguf.NewMetadataAnalyzer(f).Analyze())
	}

	loaded, err := stats.LoadDir(opts.paths...)
	if err != nil {
		return err
	}
	xs := make([]*stats.Experiment, len(loaded))
	for i, l := range loaded {
		xs[i] = l.Experiment
	}
	logger.Log.Info("Loaded experiments", "count", len(xs))

	summary := stats.Summarize(xs)
	switch opts.format {
	case "json":
		if err := writeJSON(out, summary); err != nil {
			return err
		}
	case "table":
		writeTable(out, summary)
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	if opts.arrowOut != "" {
		f, err := os.Create(opts.arrowOut)
		if err != nil {
			return err
		}
		if err := arrowexport.WriteIPC(f, xs); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if opts.flightAddr != "" {
		client := arrowexport.NewFlightClientAddr(opts.flightAddr)
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		if _, err := client.DoPut(ctx, xs); err != nil {
			return err
		}
	}
	return nil
}

type curve struct {
	Category stats.Category `json:"category"`
	Points   []stats.Point  `json:"points"`
}

// curves orders the summary by stats.Categories, leaving out empty ones.
func curves(summary map[stats.Category][]stats.Point) []curve {
	var out []curve
	for _, c := range stats.Categories {
		if pts, ok := summary[c]; ok {
			out = append(out, curve{Category: c, Points: pts})
		}
	}
	return out
}

func writeJSON(w io.Writer, summary map[stats.Category][]stats.Point) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(curves(summary))
}

func writeTable(w io.Writer, summary map[stats.Category][]stats.Point) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tBER\tACCURACY\tTRIALS")
	for _, c := range curves(summary) {
		for _, p := range c.Points {
			fmt.Fprintf(tw, "%s\t%.2e\t%.2f\t%d\n", c.Category, p.BER, p.Accuracy, p.Entries)
		}
	}
	tw.Flush()
}
