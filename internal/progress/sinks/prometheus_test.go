package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{TrackerKey: "k", JobID: "j", TS: now, Stage: progress.StageJobStart},
		{TrackerKey: "k", JobID: "j", TS: now, Stage: progress.StageFetchDone, Site: "example.com", Outcome: progress.OutcomeProvisional},
		{TrackerKey: "k", JobID: "j", TS: now, Stage: progress.StageFetchDone, Site: "x.com", Outcome: progress.OutcomeSkipped},
		{TrackerKey: "k", JobID: "j", TS: now, Stage: progress.StageArchiveDone, Count: 1},
		{TrackerKey: "k", JobID: "j", TS: now, Stage: progress.StageJobDone, Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")), 0)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.urlOutcomes.WithLabelValues("example.com", "provisional")), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.urlOutcomes.WithLabelValues("x.com", "skipped")), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.archivedEntries), 0)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "scraper_progress_job_runtime_seconds"))
}

func TestPrometheusSinkCancelledJobLeavesRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TrackerKey: "k", JobID: "a", TS: now, Stage: progress.StageJobStart},
		{TrackerKey: "k", JobID: "b", TS: now, Stage: progress.StageJobStart},
		{TrackerKey: "k", JobID: "a", TS: now, Stage: progress.StageJobCanceled},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsRunning), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("canceled")), 0)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
