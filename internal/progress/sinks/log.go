package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/renec-harvester/internal/progress"
)

// LogSink emits structured logs for every progress event. Per-identifier
// progress is logged at debug so normal runs only show milestones.
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
			zap.String("kind", string(evt.Kind)),
		}
		if evt.Stage != "" {
			fields = append(fields, zap.String("stage", string(evt.Stage)))
		}
		level := zapcore.InfoLevel
		switch evt.Kind {
		case progress.KindStarted:
			fields = append(fields, zap.String("mode", string(evt.Mode)))
		case progress.KindProgress:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.String("current", evt.Current),
			)
		case progress.KindECExtracted:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.String("codigo", evt.Codigo),
				zap.Int("certifiers", evt.Certifiers),
				zap.Int("training", evt.Training),
				zap.Duration("dur", evt.Dur),
			)
		case progress.KindError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.String("codigo", evt.Codigo), zap.String("message", evt.Message))
		case progress.KindBatchComplete:
			fields = append(fields,
				zap.Int("batch", evt.Batch),
				zap.Int("batches", evt.Batches),
				zap.Int("succeeded", evt.Succeeded),
				zap.Int("skipped", evt.Skipped),
				zap.Int("failed", evt.Failed),
			)
		case progress.KindCheckpointSaved:
			level = zapcore.DebugLevel
			fields = append(fields, zap.Int("batch", evt.Batch))
		case progress.KindCompleted:
			fields = append(fields, zap.Duration("dur", evt.Dur))
			if evt.Stats != nil {
				fields = append(fields,
					zap.Int("ec_standards", evt.Stats.ECStandards),
					zap.Int("committees", evt.Stats.Committees),
					zap.Int("unique_certifiers", evt.Stats.UniqueCertifiers),
				)
			}
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
