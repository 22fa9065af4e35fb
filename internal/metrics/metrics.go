package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTrials atomic.Int64

var (
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultforge_trials_total",
		Help: "The total number of completed fault injection trials",
	}, []string{"scheme"})

	FaultsInjectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultforge_faults_injected_total",
		Help: "Total number of bits flipped by fault injection",
	}, []string{"scheme"})

	TrialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faultforge_trial_duration_seconds",
		Help:    "Duration of a single clone/inject/decode/evaluate trial",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheme"})

	TrialAccuracy = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faultforge_trial_accuracy_percent",
		Help:    "Accuracy reached by a trial after fault injection",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 99, 100},
	}, []string{"scheme"})

	EncodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faultforge_encode_duration_seconds",
		Help:    "Time to encode a tensor list",
		Buckets: prometheus.DefBuckets,
	}, []string{"codec"})

	// Codec outcome counters

	BitsCorrected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultforge_bits_corrected_total",
		Help: "Single bit errors corrected by a parity-check code",
	}, []string{"codec"})

	UncorrectableBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultforge_uncorrectable_blocks_total",
		Help: "Blocks with a detected but uncorrectable error",
	}, []string{"codec"})

	ChunksZeroed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultforge_chunks_zeroed_total",
		Help: "Embedded parity chunks zeroed after a parity mismatch",
	}, []string{"scheme"})

	BitsOutvoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultforge_mset_bits_outvoted_total",
		Help: "Triplicated bits where one copy disagreed with the majority",
	})

	ExperimentsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultforge_experiments_saved_total",
		Help: "Experiment files written",
	})

	ExperimentLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultforge_experiment_load_errors_total",
		Help: "Experiment files that failed to load and were skipped",
	})
)

func RecordTrial(scheme string, faults int, accuracy float64, duration time.Duration) {
	TrialsTotal.WithLabelValues(scheme).Inc()
	FaultsInjectedTotal.WithLabelValues(scheme).Add(float64(faults))
	TrialAccuracy.WithLabelValues(scheme).Observe(accuracy)
	TrialDuration.WithLabelValues(scheme).Observe(duration.Seconds())
	totalTrials.Add(1)
}

// TotalTrials returns the number of trials recorded by this process.
func TotalTrials() int64 {
	return totalTrials.Load()
}

func RecordEncode(codec string, duration time.Duration) {
	EncodeDuration.WithLabelValues(codec).Observe(duration.Seconds())
}

// RecordHammingDecode records the outcome of one parity-check decode pass.
func RecordHammingDecode(codec string, corrected, uncorrectable int) {
	if corrected > 0 {
		BitsCorrected.WithLabelValues(codec).Add(float64(corrected))
	}
	if uncorrectable > 0 {
		UncorrectableBlocks.WithLabelValues(codec).Add(float64(uncorrectable))
	}
}

func RecordChunksZeroed(scheme string, n int) {
	if n > 0 {
		ChunksZeroed.WithLabelValues(scheme).Add(float64(n))
	}
}

func RecordOutvoted(n int) {
	if n > 0 {
		BitsOutvoted.Add(float64(n))
	}
}

func RecordExperimentSaved() {
	ExperimentsSaved.Inc()
}

func RecordExperimentLoadError() {
	ExperimentLoadErrors.Inc()
}
