package audit

import (
	"context"
	"log/slog"

	"github.com/roach88/stablecall/internal/ir"
)

// LogSink writes one structured log record per event.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLogSink logs events at Info on logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger, Level: slog.LevelInfo}
}

// Handle implements Sink.
func (s *LogSink) Handle(ctx context.Context, ev ir.Event) error {
	attrs := []slog.Attr{
		slog.Int64("seq", ev.Seq),
		slog.String("proxy", string(ev.Proxy)),
		slog.String("kind", string(ev.Kind)),
	}
	for _, k := range ev.Data.SortedKeys() {
		attrs = append(attrs, slog.Any(k, ir.ToAny(ev.Data[k])))
	}
	s.Logger.LogAttrs(ctx, s.Level, "audit event", attrs...)
	return nil
}
