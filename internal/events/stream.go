package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamSink appends events to a capped Redis stream.
type StreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamSink(client redis.UniversalClient, stream string, maxLen int64) *StreamSink {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Emit(ctx context.Context, ev Event) error {
	values := map[string]any{
		"name":  ev.Name,
		"level": strings.ToLower(ev.Level.String()),
		"time":  ev.Time.Format(time.RFC3339Nano),
	}
	for k, v := range ev.Attrs {
		values["attr."+k] = fmt.Sprint(v)
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
