package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/progress"
)

// LogSink emits structured debug logs for every progress event.
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

// Consume logs each event in the batch using structured fields. Empty fields
// are omitted.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	if !s.logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("cycle_id", evt.CycleUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.SourceID != "" {
			fields = append(fields, zap.String("source_id", evt.SourceID))
		}
		if evt.Filename != "" {
			fields = append(fields, zap.String("filename", evt.Filename))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Attempts > 0 {
			fields = append(fields, zap.Int("attempts", evt.Attempts))
		}
		if evt.Removed > 0 {
			fields = append(fields, zap.Int("removed", evt.Removed))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
