package events

import (
	"context"
	"log/slog"
	"sort"
)

// LogSink writes events to a structured logger at the event's level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+1)
	attrs = append(attrs, slog.String("event", ev.Name))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, ev.Attrs[k]))
	}
	s.logger.LogAttrs(ctx, ev.Level, ev.Name, attrs...)
	return nil
}
