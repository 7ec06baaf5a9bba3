package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
)

const defaultTimeout = 10 * time.Second

// Dispatcher sends notifications in the background. Failures are logged and
// emitted, never returned to the caller.
type Dispatcher struct {
	notifier Notifier
	sink     events.Sink
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, sink events.Sink, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Dispatcher{notifier: n, sink: sink, logger: logger, timeout: timeout}
}

// Dispatch returns immediately. The send runs with its own deadline, detached
// from any request context.
func (d *Dispatcher) Dispatch(act Activation) {
	d.run(func(ctx context.Context) error {
		return d.notifier.SubscriptionActivated(ctx, act)
	}, "activation notification failed", "subscriber_id", act.SubscriberID, "event_id", act.EventID)
}

// DispatchVerification sends a verification email the same way as Dispatch.
func (d *Dispatcher) DispatchVerification(v Verification) {
	d.run(func(ctx context.Context) error {
		return d.notifier.EmailVerification(ctx, v)
	}, "verification email failed", "subscriber_id", v.SubscriberID)
}

func (d *Dispatcher) run(send func(context.Context) error, msg string, attrs ...any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			kv := append(attrs[:len(attrs):len(attrs)], "error", err.Error())
			d.logger.Error(msg, kv...)
			events.Emit(ctx, d.sink, d.logger, events.New(events.NotifyFailed, slog.LevelError, kv...))
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
