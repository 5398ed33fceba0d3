package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the run,
// page and fetch collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages         *prometheus.CounterVec
	fetchRequests *prometheus.CounterVec
	fetchRetries  *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdcrawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcrawler_runs_completed_total",
			Help: "Total crawl runs finished, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdcrawler_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mdcrawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcrawler_pages_total",
			Help: "Page outcomes partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcrawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcrawler_fetch_retries_total",
			Help: "Fetch retries scheduled per site.",
		}, []string{"site"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcrawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mdcrawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.pages,
		s.fetchRequests,
		s.fetchRetries,
		s.fetchBytes,
		s.fetchDuration,
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
	case progress.StageRunStart, progress.StageRunDone:
		s.handleRunEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageFetchRetry:
		s.fetchRetries.WithLabelValues(siteLabel(evt)).Inc()
	case progress.StagePageSaved:
		s.pages.WithLabelValues(siteLabel(evt), "saved").Inc()
	case progress.StagePageFailed:
		s.pages.WithLabelValues(siteLabel(evt), "failed").Inc()
	case progress.StagePageSkip:
		s.pages.WithLabelValues(siteLabel(evt), "skipped").Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
		return
	}
	result := "completed"
	if evt.ErrorKind == progress.KindInterrupted {
		result = "interrupted"
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := siteLabel(evt)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteLabel(evt progress.Event) string {
	if evt.Site == "" {
		return "unknown"
	}
	return evt.Site
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
