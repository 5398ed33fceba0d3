package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// LogSink emits one structured log line per progress event. Per-attempt
// stages log at debug so the info stream stays at one line per page.
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
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fieldsFor(evt)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StagePageFailed, progress.StageFetchRetry:
		return zapcore.WarnLevel
	case progress.StageFetchAttempt, progress.StageFetchDone:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func fieldsFor(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", evt.RunUUID().String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Site != "" {
		fields = append(fields, zap.String("site", evt.Site))
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL), zap.Int("depth", evt.Depth))
	}
	switch evt.Stage {
	case progress.StageFetchAttempt, progress.StageFetchRetry:
		fields = append(fields, zap.Int("attempt", evt.Attempt))
	case progress.StageFetchDone:
		fields = append(fields,
			zap.Int("attempt", evt.Attempt),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Int64("bytes", evt.Bytes),
		)
	case progress.StagePageSaved:
		fields = append(fields,
			zap.String("path", evt.Path),
			zap.String("sha256", evt.Digest),
			zap.Int64("bytes", evt.Bytes),
		)
	case progress.StagePageFailed, progress.StageRunDone:
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", evt.ErrorKind))
		}
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
