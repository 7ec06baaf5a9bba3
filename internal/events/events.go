// Package events carries operational events (webhook outcomes, gate
// decisions, notifier failures) to pluggable backends: the process log,
// Prometheus counters and a Redis stream read by the alerting engine.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event names.
const (
	WebhookProcessed        = "webhook.processed"
	WebhookDuplicate        = "webhook.duplicate"
	WebhookSignatureInvalid = "webhook.signature_invalid"
	WebhookPayloadMalformed = "webhook.payload_malformed"
	WebhookUnknownReference = "webhook.unknown_external_reference"
	WebhookSubscriberAbsent = "webhook.subscriber_not_found"
	WebhookPersistenceError = "webhook.persistence_failure"
	RateLimited             = "ratelimit.limited"
	GateFailOpen            = "gate.fail_open"
	GateFailClosed          = "gate.fail_closed"
	GateTrialExpired        = "gate.trial_expired"
	NotifyFailed            = "notify.failed"
)

type Event struct {
	Name  string
	Level slog.Level
	Time  time.Time
	Attrs map[string]any
}

// New builds an event stamped with the current time. kv is a list of
// alternating keys and values; a trailing key without a value is dropped.
func New(name string, level slog.Level, kv ...any) Event {
	ev := Event{Name: name, Level: level, Time: time.Now().UTC()}
	if len(kv) > 1 {
		ev.Attrs = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			ev.Attrs[key] = kv[i+1]
		}
	}
	return ev
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller for long; Emit errors are for the caller to log.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit sends ev to sink and logs a failure instead of returning it.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, ev); err != nil && logger != nil {
		logger.Warn("emit event", "event", ev.Name, "error", err)
	}
}
