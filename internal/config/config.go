package config

import (
	"fmt"
	"runtime"

	"github.com/rezzubs/faultforge/internal/tensor"
)

// Config describes one sweep: which schemes to compare, at which fault
// rates, on which reference model.
type Config struct {
	// Schemes are scheme strings accepted by ParseScheme.
	Schemes []string
	// BERs are bit error rates; each becomes round(BER * total bits) faults
	// for every scheme.
	BERs []float64
	// FaultCounts are absolute fault counts, used in addition to BERs.
	FaultCounts []int
	Runs        int
	Seed        uint64
	// Workers bounds concurrent trials. Zero means GOMAXPROCS.
	Workers      int
	RecordFaults bool

	OutDir   string
	Compress bool
	ArrowOut string

	DType      string
	Classes    int
	Features   int
	Samples    int
	Spread     float64
	Separation float64
	// ModelPath loads weights from a GGUF file instead of fitting them.
	ModelPath string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
	FlightAddr  string
}

func Default() Config {
	return Config{
		Schemes:    []string{"none", "secded:64", "ep:d3p1", "mset:1", "ep:d3p1+secded:64", "mset:1+secded:64"},
		BERs:       []float64{1e-5, 3.16e-5, 1e-4, 3.16e-4, 1e-3},
		Runs:       20,
		Seed:       1,
		DType:      "float32",
		Classes:    10,
		Features:   32,
		Samples:    2000,
		Spread:     1.0,
		Separation: 1.0,
		LogLevel:   "INFO",
		LogFormat:  "console",
	}
}

func (c *Config) Validate() error {
	if len(c.Schemes) == 0 {
		return fmt.Errorf("no schemes given")
	}
	for _, s := range c.Schemes {
		if _, err := ParseScheme(s); err != nil {
			return fmt.Errorf("invalid scheme %q: %w", s, err)
		}
	}
	if len(c.BERs) == 0 && len(c.FaultCounts) == 0 {
		return fmt.Errorf("no fault rates given: set BERs or FaultCounts")
	}
	for _, ber := range c.BERs {
		if ber < 0 || ber > 1 {
			return fmt.Errorf("invalid ber: %g (must be in [0, 1])", ber)
		}
	}
	for _, n := range c.FaultCounts {
		if n < 0 {
			return fmt.Errorf("invalid fault count: %d (must be non-negative)", n)
		}
	}
	if c.Runs <= 0 {
		return fmt.Errorf("invalid runs: %d (must be positive)", c.Runs)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (must be non-negative)", c.Workers)
	}
	if _, err := c.TensorDType(); err != nil {
		return err
	}
	if c.ModelPath == "" {
		if c.Classes < 2 {
			return fmt.Errorf("invalid classes: %d (must be at least 2)", c.Classes)
		}
		if c.Features <= 0 {
			return fmt.Errorf("invalid features: %d (must be positive)", c.Features)
		}
	}
	if c.Samples <= 0 {
		return fmt.Errorf("invalid samples: %d (must be positive)", c.Samples)
	}
	if c.Spread < 0 || c.Separation < 0 {
		return fmt.Errorf("spread (%g) and separation (%g) must be non-negative", c.Spread, c.Separation)
	}
	return nil
}

// TensorDType parses DType, which must name a float type.
func (c *Config) TensorDType() (tensor.DType, error) {
	d, err := tensor.ParseDType(c.DType)
	if err != nil {
		return 0, err
	}
	if !d.IsFloat() {
		return 0, fmt.Errorf("invalid dtype: %v (model weights must be float16 or float32)", d)
	}
	return d, nil
}

// EffectiveWorkers resolves the zero default.
func (c *Config) EffectiveWorkers() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}
