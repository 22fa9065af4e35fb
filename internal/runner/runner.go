// Package runner sweeps fault rates over protection schemes.
//
// Every (scheme, point) pair becomes one stats.Experiment holding Runs
// trials. A trial clones the system data, injects faults with its own
// generator and evaluates accuracy. Generators are seeded from the sweep
// seed, the scheme and the point, so results do not depend on how trials
// are scheduled.
package runner

import (
	"context"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rezzubs/faultforge/internal/config"
	"github.com/rezzubs/faultforge/internal/encoding"
	"github.com/rezzubs/faultforge/internal/faults"
	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/stats"
	"github.com/rezzubs/faultforge/internal/system"
)

// Point is one fault rate of a sweep: either a bit error rate relative to
// the size of the fault space or an absolute fault count.
type Point struct {
	BER      float64
	Faults   int
	Absolute bool
}

// Points lists the BER points of cfg followed by its absolute counts.
func Points(cfg config.Config) []Point {
	pts := make([]Point, 0, len(cfg.BERs)+len(cfg.FaultCounts))
	for _, ber := range cfg.BERs {
		pts = append(pts, Point{BER: ber})
	}
	for _, n := range cfg.FaultCounts {
		pts = append(pts, Point{Faults: n, Absolute: true})
	}
	return pts
}

// FaultCount is round(BER * totalBits) for rate points.
func (p Point) FaultCount(totalBits int) int {
	if p.Absolute {
		return p.Faults
	}
	return int(math.Round(p.BER * float64(totalBits)))
}

func (p Point) String() string {
	if p.Absolute {
		return "faults=" + strconv.Itoa(p.Faults)
	}
	return "ber=" + strconv.FormatFloat(p.BER, 'g', -1, 64)
}

// AddMetadata tags an experiment with the point.
func (p Point) AddMetadata(md map[string]string) {
	if p.Absolute {
		md["faults"] = strconv.Itoa(p.Faults)
		return
	}
	md["ber"] = fmt.Sprintf("%.2e", p.BER)
}

// Runner runs sweeps over systems with data type D.
type Runner[D any] struct {
	cfg     config.Config
	observe func(*stats.Experiment)
}

func New[D any](cfg config.Config) *Runner[D] {
	return &Runner[D]{cfg: cfg}
}

// OnExperiment registers fn to be called with every finished experiment,
// from the goroutine calling Run.
func (r *Runner[D]) OnExperiment(fn func(*stats.Experiment)) *Runner[D] {
	r.observe = fn
	return r
}

// PlannedTrials is the number of trials a sweep over schemes runs.
func (r *Runner[D]) PlannedTrials(schemes []string) int64 {
	return int64(len(schemes)) * int64(len(Points(r.cfg))) * int64(r.cfg.Runs)
}

// Run sweeps every scheme over the configured points. Schemes are handled
// one after another; trials of one scheme run on up to Workers goroutines.
//
// Experiments finished before an error are returned along with it.
func (r *Runner[D]) Run(ctx context.Context, sys system.System[D], schemes []string) ([]*stats.Experiment, error) {
	var out []*stats.Experiment
	for _, s := range schemes {
		enc, err := config.ParseScheme(s)
		if err != nil {
			return out, fmt.Errorf("scheme %q: %w", s, err)
		}

		var xs []*stats.Experiment
		if enc == nil {
			xs, err = sweep[D](ctx, r.cfg, sys, config.NoProtection, r.observe)
		} else {
			es, encErr := system.NewEncodedSystem(sys, enc)
			if encErr != nil {
				return out, encErr
			}
			logger.Log.Debug("Encoded system",
				"scheme", config.SchemeKey(es.Encoder()),
				"base_bits", es.Base().TotalBitsCount(),
				"bits", es.TotalBitsCount(),
				"overhead", es.MemoryOverhead())
			xs, err = sweep[encoding.Encoding](ctx, r.cfg, es, config.SchemeKey(enc), r.observe)
		}
		out = append(out, xs...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

type trialResult struct {
	accuracy float64
	faults   int
	addrs    []faults.Address
}

func sweep[T any](ctx context.Context, cfg config.Config, sys system.System[T], scheme string, observe func(*stats.Experiment)) ([]*stats.Experiment, error) {
	total := sys.TotalBitsCount()
	points := Points(cfg)
	for _, p := range points {
		if n := p.FaultCount(total); n > total {
			return nil, fmt.Errorf("scheme %s at %s: %d faults requested, %d bits available: %w",
				scheme, p, n, total, faults.ErrInsufficientBits)
		}
	}

	md := maps.Clone(sys.Metadata())
	if md == nil {
		md = map[string]string{}
	}
	md["scheme"] = scheme
	if _, ok := md["protected"]; !ok {
		md["protected"] = "false"
	}

	start := time.Now()
	results := make([][]trialResult, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EffectiveWorkers())
	for pi, p := range points {
		results[pi] = make([]trialResult, cfg.Runs)
		n := p.FaultCount(total)
		seed := pointSeed(cfg.Seed, scheme, p)
		for i := 0; i < cfg.Runs; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rng := rand.New(rand.NewPCG(seed, uint64(i)))
				res, err := runTrial(sys, scheme, n, rng, cfg.RecordFaults)
				if err != nil {
					return fmt.Errorf("scheme %s at %s, trial %d: %w", scheme, p, i, err)
				}
				results[pi][i] = res
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*stats.Experiment, len(points))
	for pi, p := range points {
		pmd := maps.Clone(md)
		p.AddMetadata(pmd)
		x := stats.New(pmd, total)
		for _, res := range results[pi] {
			x.Record(res.accuracy, res.faults, res.addrs)
		}
		out[pi] = x

		logger.Log.Info("Experiment finished",
			"scheme", scheme,
			"point", p.String(),
			"faults", p.FaultCount(total),
			"runs", cfg.Runs,
			"mean_accuracy", x.MeanAccuracy())

		if cfg.OutDir != "" {
			if err := save(cfg, x); err != nil {
				return out[:pi+1], err
			}
		}
		if observe != nil {
			observe(x)
		}
	}
	logger.Log.Debug("Scheme finished", "scheme", scheme, "duration", time.Since(start).String())
	return out, nil
}

func runTrial[T any](sys system.System[T], scheme string, n int, rng *rand.Rand, keepAddrs bool) (trialResult, error) {
	start := time.Now()
	d := sys.CloneData(sys.Data())
	addrs, err := sys.InjectNFaults(d, n, rng)
	if err != nil {
		return trialResult{}, err
	}
	acc := sys.Accuracy(d)
	metrics.RecordTrial(scheme, n, acc, time.Since(start))
	if !keepAddrs || len(addrs) == 0 {
		addrs = nil
	}
	return trialResult{accuracy: acc, faults: n, addrs: addrs}, nil
}

// pointSeed derives the generator seed of one (scheme, point) pair.
func pointSeed(seed uint64, scheme string, p Point) uint64 {
	h := xxhash.New()
	h.WriteString(scheme)
	h.WriteString("|")
	h.WriteString(p.String())
	return h.Sum64() ^ seed
}

func save(cfg config.Config, x *stats.Experiment) error {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	name := stats.Filename(x.Metadata)
	if cfg.Compress {
		name += stats.CompressedExt
	}
	path := filepath.Join(cfg.OutDir, name)
	if err := x.Save(path); err != nil {
		return err
	}
	logger.Log.Debug("Saved experiment", "path", path)
	return nil
}
