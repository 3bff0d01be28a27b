package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the collectors
// for jobs started/completed/running, per-site URL outcomes and archive sizes.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	urlOutcomes     *prometheus.CounterVec
	archivedEntries prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_progress_jobs_started_total",
			Help: "Total crawl jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_progress_jobs_completed_total",
			Help: "Total crawl jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_progress_jobs_running",
			Help: "Current number of running crawl jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_progress_job_runtime_seconds",
			Help:    "Wall time per finished crawl job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		urlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_progress_url_outcomes_total",
			Help: "Terminal URL outcomes partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		archivedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_progress_archived_entries_total",
			Help: "Documents written to archives.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.urlOutcomes,
		s.archivedEntries,
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
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.TrackerKey, evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.completeJob(evt, "success")
	case progress.StageJobError:
		s.completeJob(evt, "error")
	case progress.StageJobCanceled:
		s.completeJob(evt, "canceled")
	case progress.StageFetchDone:
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.urlOutcomes.WithLabelValues(site, string(evt.Outcome)).Inc()
	case progress.StageArchiveDone:
		if evt.Count > 0 {
			s.archivedEntries.Add(float64(evt.Count))
		}
	}
}

func (s *PrometheusSink) completeJob(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.TrackerKey, evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobKey struct {
	trackerKey string
	jobID      string
}

type jobTracker struct {
	mu      sync.Mutex
	running map[jobKey]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[jobKey]struct{})}
}

func (t *jobTracker) start(trackerKey, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := jobKey{trackerKey, jobID}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *jobTracker) complete(trackerKey, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := jobKey{trackerKey, jobID}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
