package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/camara-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns the
// collectors for runs started/completed/running and per-record outcomes.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec

	pages          *prometheus.CounterVec
	records        *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camara_runs_started_total",
			Help: "Total crawl runs started per resource.",
		}, []string{"resource"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camara_runs_completed_total",
			Help: "Total crawl runs finished partitioned by result.",
		}, []string{"resource", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camara_runs_running",
			Help: "Current number of running crawls per resource.",
		}, []string{"resource"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camara_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"resource", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camara_pages_total",
			Help: "Listing pages completed per resource.",
		}, []string{"resource"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camara_records_total",
			Help: "Records handled partitioned by outcome.",
		}, []string{"resource", "outcome"}),
		recordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camara_record_duration_seconds",
			Help:    "Time spent per record including detail fetches and writes.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"resource"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.records,
		s.recordDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	resource := evt.Resource
	if resource == "" {
		resource = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(resource).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.WithLabelValues(resource).Inc()
		}
	case progress.StageRunDone, progress.StageRunError, progress.StageRunStopped:
		result := resultLabel(evt.Stage)
		s.runsCompleted.WithLabelValues(resource, result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(resource, result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.WithLabelValues(resource).Dec()
		}
	case progress.StagePageDone:
		s.pages.WithLabelValues(resource).Inc()
	case progress.StageRecordDone:
		s.records.WithLabelValues(resource, string(evt.Outcome)).Inc()
		if evt.Dur > 0 {
			s.recordDuration.WithLabelValues(resource).Observe(evt.Dur.Seconds())
		}
	}
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageRunDone:
		return "success"
	case progress.StageRunStopped:
		return "stopped"
	default:
		return "error"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
