// Package monitoring serves sweep progress and Prometheus metrics over HTTP.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/metrics"
	"github.com/rezzubs/faultforge/internal/stats"
)

// HealthStatus is the body of /status.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Sweep     SweepInfo     `json:"sweep"`
	Alerts    []Alert       `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// SweepInfo describes the progress of the running sweep.
type SweepInfo struct {
	PlannedTrials        int64     `json:"planned_trials"`
	CompletedTrials      int64     `json:"completed_trials"`
	CompletedExperiments int       `json:"completed_experiments"`
	LastScheme           string    `json:"last_scheme,omitempty"`
	LastMeanAccuracy     float64   `json:"last_mean_accuracy"`
	LastExperiment       time.Time `json:"last_experiment"`
	Done                 bool      `json:"done"`
}

// Alert is a noteworthy sweep event.
type Alert struct {
	Level     string    `json:"level"` // warning, error
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMonitor tracks one sweep.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server

	mu      sync.RWMutex
	alerts  []Alert
	sweep   SweepInfo
	trials0 int64
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		trials0:   metrics.TotalTrials(),
	}
}

// Handler exposes /health, /healthz, /status and /metrics.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves Handler on addr until Stop.
func (hm *HealthMonitor) Start(addr string) error {
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Info("Health monitor starting", "addr", addr)
	err := hm.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// Plan sets the number of trials the sweep is expected to run.
func (hm *HealthMonitor) Plan(trials int64) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.sweep.PlannedTrials = trials
}

// RecordExperiment notes a finished experiment. Experiments whose trials all
// reached zero accuracy raise a warning.
func (hm *HealthMonitor) RecordExperiment(x *stats.Experiment) {
	hm.mu.Lock()
	hm.sweep.CompletedExperiments++
	hm.sweep.LastScheme = x.Metadata["scheme"]
	hm.sweep.LastMeanAccuracy = x.MeanAccuracy()
	hm.sweep.LastExperiment = time.Now()
	hm.mu.Unlock()

	if len(x.Entries) > 0 && x.MeanAccuracy() == 0 {
		hm.AddAlert("warning", "accuracy",
			fmt.Sprintf("scheme %s collapsed to zero accuracy at %d faults", x.Metadata["scheme"], x.Entries[0].FaultCount()))
	}
}

// Finish marks the sweep as done, failed when err is not nil.
func (hm *HealthMonitor) Finish(err error) {
	hm.mu.Lock()
	hm.sweep.Done = true
	hm.mu.Unlock()
	if err != nil {
		hm.AddAlert("error", "sweep", err.Error())
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > 100 {
		hm.alerts = hm.alerts[1:]
	}
	logger.Log.Warn("Alert", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}

// Status is "healthy" unless an error alert was raised, then "degraded".
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, a := range hm.alerts {
		if a.Level == "error" {
			status = "degraded"
			break
		}
	}

	sweep := hm.sweep
	sweep.CompletedTrials = metrics.TotalTrials() - hm.trials0

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		System:    systemInfo(),
		Sweep:     sweep,
		Alerts:    append([]Alert(nil), hm.alerts...),
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
