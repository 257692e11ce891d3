package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/progress"
)

// LogSink emits structured logs for every progress event. Record events are
// logged at debug level since a single run produces thousands of them.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("resource", evt.Resource),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("records", evt.Records), zap.Duration("dur", evt.Dur))
		case progress.StageRecordDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("key", evt.Key),
				zap.String("outcome", string(evt.Outcome)),
				zap.Duration("dur", evt.Dur),
			)
		default:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch {
		case evt.Stage == progress.StageRunError:
			s.logger.Warn("progress event", fields...)
		case evt.Stage == progress.StageRecordDone && evt.Outcome == progress.OutcomeFailed:
			s.logger.Warn("progress event", fields...)
		case evt.Stage == progress.StageRecordDone:
			s.logger.Debug("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
