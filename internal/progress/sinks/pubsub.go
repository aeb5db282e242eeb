package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// Notification kinds published by PubSubSink.
const (
	NotifyRunCompleted = "run_completed"
	NotifyRunFailed    = "run_failed"
)

// Publisher delivers one payload and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// RunNotification is the message body announcing a finished run.
type RunNotification struct {
	RunID      string                 `json:"runId"`
	Status     string                 `json:"status"`
	FinishedAt time.Time              `json:"finishedAt"`
	DurationMS int64                  `json:"durationMs"`
	Error      string                 `json:"error,omitempty"`
	Stats      *renec.ExtractionStats `json:"stats,omitempty"`
}

// PubSubSink announces finished runs so downstream consumers can reload the
// corpus. Only terminal events are published.
type PubSubSink struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPubSubSink constructs a PubSubSink.
func NewPubSubSink(publisher Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{publisher: publisher, logger: logger}
}

// Consume publishes a RunNotification for each completed or failed run.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		kind := ""
		note := RunNotification{
			RunID:      evt.RunUUID().String(),
			FinishedAt: evt.TS,
			DurationMS: evt.Dur.Milliseconds(),
		}
		switch {
		case evt.Kind == progress.KindCompleted:
			kind = NotifyRunCompleted
			note.Status = "success"
			note.Stats = evt.Stats
		case evt.RunFailed():
			kind = NotifyRunFailed
			note.Status = "error"
			note.Error = evt.Message
		default:
			continue
		}
		id, err := s.publisher.Publish(ctx, kind, note)
		if err != nil {
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		s.logger.Debug("run notification published", zap.String("kind", kind), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
