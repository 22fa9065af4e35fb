// Command faultforge sweeps bit error rates over protection schemes for a
// reference classifier and records accuracy per trial.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rezzubs/faultforge/internal/arrowexport"
	"github.com/rezzubs/faultforge/internal/config"
	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/model"
	"github.com/rezzubs/faultforge/internal/monitoring"
	"github.com/rezzubs/faultforge/internal/runner"
	"github.com/rezzubs/faultforge/internal/stats"
)

type options struct {
	cfg       config.Config
	saveModel string
}

func parseFlags(args []string) (options, error) {
	def := config.Default()
	fs := flag.NewFlagSet("faultforge", flag.ContinueOnError)

	schemes := fs.String("schemes", strings.Join(def.Schemes, ","), "Comma separated protection schemes (none, secded[:k], bitpattern:<mask>[:k], ep[:d3p1|d7p1|d15p1], mset[:n], joined with +)")
	bers := fs.String("ber", joinFloats(def.BERs), "Comma separated bit error rates")
	counts := fs.String("faults", "", "Comma separated absolute fault counts")
	runs := fs.Int("runs", def.Runs, "Trials per scheme and fault rate")
	seed := fs.Uint64("seed", def.Seed, "Sweep seed")
	workers := fs.Int("workers", def.Workers, "Concurrent trials (0 = GOMAXPROCS)")
	record := fs.Bool("record-faults", def.RecordFaults, "Keep the flipped bit addresses of every trial")
	outDir := fs.String("out", "", "Directory to write experiment files to")
	compress := fs.Bool("compress", def.Compress, "Write zstd compressed experiment files")
	arrowOut := fs.String("arrow", "", "Write all trials as an Arrow IPC stream to this path")
	flightAddr := fs.String("flight", "", "Upload all trials to an Arrow Flight endpoint (host:port)")
	dtype := fs.String("dtype", def.DType, "Model weight type (float32, float16)")
	classes := fs.Int("classes", def.Classes, "Number of classes of the synthetic dataset")
	features := fs.Int("features", def.Features, "Number of features of the synthetic dataset")
	samples := fs.Int("samples", def.Samples, "Number of evaluation samples")
	spread := fs.Float64("spread", def.Spread, "Standard deviation of samples around their class center")
	separation := fs.Float64("separation", def.Separation, "Scale of the class centers")
	modelPath := fs.String("model", "", "Load classifier weights from a GGUF file")
	saveModel := fs.String("save-model", "", "Write the classifier to a GGUF file before the sweep")
	logLevel := fs.String("log-level", def.LogLevel, "DEBUG, INFO, WARN or ERROR")
	logFormat := fs.String("log-format", def.LogFormat, "console or json")
	metricsAddr := fs.String("metrics", "", "Address to serve Prometheus metrics, e.g. :9090")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg := def
	cfg.Schemes = splitList(*schemes)
	var err error
	if cfg.BERs, err = parseFloats(*bers); err != nil {
		return options{}, fmt.Errorf("-ber: %w", err)
	}
	if cfg.FaultCounts, err = parseInts(*counts); err != nil {
		return options{}, fmt.Errorf("-faults: %w", err)
	}
	cfg.Runs = *runs
	cfg.Seed = *seed
	cfg.Workers = *workers
	cfg.RecordFaults = *record
	cfg.OutDir = *outDir
	cfg.Compress = *compress
	cfg.ArrowOut = *arrowOut
	cfg.FlightAddr = *flightAddr
	cfg.DType = *dtype
	cfg.Classes = *classes
	cfg.Features = *features
	cfg.Samples = *samples
	cfg.Spread = *spread
	cfg.Separation = *separation
	cfg.ModelPath = *modelPath
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		return options{}, err
	}
	return options{cfg: cfg, saveModel: *saveModel}, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	cfg := opts.cfg
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	monitor := monitoring.NewHealthMonitor()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := monitor.Start(cfg.MetricsAddr); err != nil {
				logger.Log.Error("Metrics server error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, opts, monitor)
	monitor.Finish(err)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	monitor.Stop(shutdownCtx)
	if err != nil {
		logger.Log.Error("Sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, monitor *monitoring.HealthMonitor) error {
	cfg := opts.cfg
	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	if opts.saveModel != "" {
		if err := model.SaveGGUF(opts.saveModel, sys.Data()); err != nil {
			return err
		}
		logger.Log.Info("Saved model", "path", opts.saveModel)
	}

	logger.Log.Info("Starting sweep",
		"dataset", sys.Dataset().Name,
		"baseline_accuracy", sys.Accuracy(sys.Data()),
		"bits", sys.TotalBitsCount(),
		"schemes", len(cfg.Schemes),
		"points", len(runner.Points(cfg)),
		"runs", cfg.Runs,
		"workers", cfg.EffectiveWorkers())

	r := runner.New[*model.Model](cfg).OnExperiment(monitor.RecordExperiment)
	monitor.Plan(r.PlannedTrials(cfg.Schemes))

	start := time.Now()
	xs, err := r.Run(ctx, sys, cfg.Schemes)
	if err != nil {
		return err
	}
	logger.Log.Info("Sweep complete",
		"experiments", len(xs),
		"trials", metrics.TotalTrials(),
		"duration", time.Since(start).String())

	if cfg.ArrowOut != "" {
		if err := writeArrow(cfg.ArrowOut, xs); err != nil {
			return err
		}
	}
	if cfg.FlightAddr != "" {
		if err := upload(ctx, cfg.FlightAddr, xs); err != nil {
			return err
		}
	}
	return nil
}

// buildSystem fits a nearest-mean classifier on a synthetic dataset, or
// loads one from GGUF and evaluates it on a dataset of matching shape.
func buildSystem(cfg config.Config) (*model.System, error) {
	dtype, err := cfg.TensorDType()
	if err != nil {
		return nil, err
	}
	blobs := model.BlobsConfig{
		Seed:       cfg.Seed,
		Classes:    cfg.Classes,
		Features:   cfg.Features,
		Samples:    cfg.Samples,
		Spread:     cfg.Spread,
		Separation: cfg.Separation,
	}

	var ds *model.Dataset
	cache := model.NewCache(func(key string) (*model.Model, error) {
		if cfg.ModelPath != "" {
			return model.LoadGGUF(key)
		}
		return model.NewNearestMean(ds, dtype)
	})

	if cfg.ModelPath != "" {
		m, err := cache.Get(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		blobs.Classes, blobs.Features = m.Classes(), m.Features()
		if ds, err = model.NewBlobs(blobs); err != nil {
			return nil, err
		}
		return model.NewSystem(m, ds)
	}

	if ds, err = model.NewBlobs(blobs); err != nil {
		return nil, err
	}
	m, err := cache.Get(ds.Name + "/" + dtype.String())
	if err != nil {
		return nil, err
	}
	return model.NewSystem(m, ds)
}

func writeArrow(path string, xs []*stats.Experiment) error {
	f, err := os.Create(path)
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
	logger.Log.Info("Wrote Arrow stream", "path", path)
	return nil
}

func upload(ctx context.Context, addr string, xs []*stats.Experiment) error {
	client := arrowexport.NewFlightClientAddr(addr)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	_, err := client.DoPut(ctx, xs)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, p := range splitList(s) {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
