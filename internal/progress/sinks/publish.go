package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/progress"
	"github.com/JakeFAU/camara-crawler/internal/publisher"
)

// RunNotice is the payload announced for run lifecycle events.
type RunNotice struct {
	RunID      string    `json:"run_id"`
	Resource   string    `json:"resource"`
	Stage      string    `json:"stage"`
	TS         time.Time `json:"ts"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// PublishSink announces run starts and completions on a topic. Page and record
// events are ignored.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink wires pub to topic.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes every lifecycle event in the batch.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRunStart && !evt.Stage.Terminal() {
			continue
		}
		notice := RunNotice{
			RunID:      evt.RunUUID().String(),
			Resource:   evt.Resource,
			Stage:      string(evt.Stage),
			TS:         evt.TS.UTC(),
			DurationMS: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		}
		attrs := map[string]string{
			"run_id":   notice.RunID,
			"resource": notice.Resource,
			"stage":    notice.Stage,
		}
		id, err := s.pub.Publish(ctx, s.topic, notice, attrs)
		if err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
		s.logger.Debug("run notice published",
			zap.String("message_id", id),
			zap.String("run_id", notice.RunID),
			zap.String("stage", notice.Stage),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
