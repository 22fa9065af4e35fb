// Command strip_faults removes the recorded fault addresses from experiment
// files in place. Directories are searched recursively.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/stats"
)

func main() {
	logLevel := flag.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	logFormat := flag.String("log-format", "console", "console or json")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] PATH...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(flag.Args(), os.Stdout))
}

// run strips every path and prints a summary line. Unreadable files do not
// fail the command; only an unusable path argument does.
func run(paths []string, out io.Writer) int {
	results, err := stats.StripFaultsPaths(paths)
	if err != nil {
		logger.Log.Error("Failed to expand paths", "error", err)
		return 1
	}
	stripped, skipped := 0, 0
	for _, r := range results {
		if r.Err != nil {
			skipped++
			continue
		}
		stripped++
	}
	fmt.Fprintf(out, "stripped %d files, skipped %d\n", stripped, skipped)
	return 0
}
