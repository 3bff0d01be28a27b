package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

// LogSink emits structured logs for progress streams. Per-URL events are
// logged at debug level; job lifecycle events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("tracker_key", evt.TrackerKey),
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageFetchDone:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
			)
		case progress.StageArchiveDone:
			fields = append(fields, zap.Int("confirmed", evt.Count))
		case progress.StageJobError:
			level = zapcore.WarnLevel
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(level, "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
