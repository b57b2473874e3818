package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/image-archiver/internal/progress"
)

// PrometheusSink exports archiver progress metrics via Prometheus. It owns the
// cycle collectors and the per-source fetch, capture and retention counters.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted prometheus.Counter
	cyclesRunning   prometheus.Gauge
	cycleDuration   prometheus.Histogram
	cycleFailures   prometheus.Gauge

	fetches       *prometheus.CounterVec
	fetchAttempts *prometheus.HistogramVec
	fetchDuration *prometheus.HistogramVec
	captures      *prometheus.CounterVec
	captureBytes  *prometheus.CounterVec
	pruned        *prometheus.CounterVec
	lastCapture   *prometheus.GaugeVec

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_cycles_started_total",
			Help: "Total fetch cycles that have started.",
		}),
		cyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_cycles_completed_total",
			Help: "Total fetch cycles that have completed.",
		}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_cycles_running",
			Help: "Whether a fetch cycle is currently running.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_cycle_duration_seconds",
			Help:    "Wall time per completed cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		cycleFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_last_cycle_failed_sources",
			Help: "Sources that produced no item in the most recent cycle.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_fetches_total",
			Help: "Fetch outcomes after retries, partitioned by source and result.",
		}, []string{"source", "result"}),
		fetchAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_fetch_attempts",
			Help:    "Attempts used per fetch outcome.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_fetch_duration_seconds",
			Help:    "Duration of the successful attempt, partitioned by source.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_captures_total",
			Help: "Items committed to the archive per source.",
		}, []string{"source"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_capture_bytes_total",
			Help: "Bytes committed to the archive per source.",
		}, []string{"source"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_pruned_total",
			Help: "Items removed by retention per source.",
		}, []string{"source"}),
		lastCapture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_last_capture_timestamp_seconds",
			Help: "Unix time of the most recent committed item per source.",
		}, []string{"source"}),
		tracker: newCycleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesCompleted,
		s.cyclesRunning,
		s.cycleDuration,
		s.cycleFailures,
		s.fetches,
		s.fetchAttempts,
		s.fetchDuration,
		s.captures,
		s.captureBytes,
		s.pruned,
		s.lastCapture,
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
	switch evt.Stage {
	case progress.StageCycleStart, progress.StageCycleDone:
		s.handleCycleEvent(evt)
	case progress.StageFetchDone:
		s.fetches.WithLabelValues(evt.SourceID, "success").Inc()
		s.observeAttempts(evt)
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(evt.SourceID).Observe(evt.Dur.Seconds())
		}
	case progress.StageFetchFailed:
		s.fetches.WithLabelValues(evt.SourceID, "failure").Inc()
		s.observeAttempts(evt)
	case progress.StageCaptureSaved:
		s.captures.WithLabelValues(evt.SourceID).Inc()
		if evt.Bytes > 0 {
			s.captureBytes.WithLabelValues(evt.SourceID).Add(float64(evt.Bytes))
		}
		s.lastCapture.WithLabelValues(evt.SourceID).Set(float64(evt.TS.Unix()))
	case progress.StagePruned:
		if evt.Removed > 0 {
			s.pruned.WithLabelValues(evt.SourceID).Add(float64(evt.Removed))
		}
	}
}

func (s *PrometheusSink) handleCycleEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		s.cyclesStarted.Inc()
		if s.tracker.start(evt.CycleID) {
			s.cyclesRunning.Inc()
		}
	case progress.StageCycleDone:
		s.cyclesCompleted.Inc()
		s.cycleFailures.Set(float64(evt.Failed))
		if evt.Dur > 0 {
			s.cycleDuration.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.CycleID) {
			s.cyclesRunning.Dec()
		}
	}
}

func (s *PrometheusSink) observeAttempts(evt progress.Event) {
	if evt.Attempts > 0 {
		s.fetchAttempts.WithLabelValues(evt.SourceID).Observe(float64(evt.Attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type cycleTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[[16]byte]struct{})}
}

func (t *cycleTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
