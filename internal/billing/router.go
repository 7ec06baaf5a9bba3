package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/notify"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/store"
)

// Disposition is how the router handled an event.
type Disposition string

const (
	DispositionApplied            Disposition = "applied"
	DispositionUnchanged          Disposition = "unchanged"
	DispositionIgnored            Disposition = "ignored"
	DispositionDuplicate          Disposition = "duplicate"
	DispositionUnknownReference   Disposition = "unknown_reference"
	DispositionSubscriberNotFound Disposition = "subscriber_not_found"
)

type Result struct {
	Disposition  Disposition
	SubscriberID string
	From         model.Status
	To           model.Status
}

// Activations receives activation notices after the transaction commits.
type Activations interface {
	Dispatch(act notify.Activation)
}

// Router resolves the subscriber an event refers to, runs the transition and
// persists the result exactly once.
type Router struct {
	guard       *Guard
	subscribers *store.SubscriberStore
	history     *store.HistoryStore
	prices      map[model.PlanTier]int64
	activations Activations
	sink        events.Sink
	logger      *slog.Logger
	now         func() time.Time
}

func NewRouter(db *database.DB, prices map[model.PlanTier]int64, activations Activations, sink events.Sink, logger *slog.Logger) *Router {
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		guard:       NewGuard(db),
		subscribers: store.NewSubscriberStore(db),
		history:     store.NewHistoryStore(db),
		prices:      prices,
		activations: activations,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
	}
}

// Route applies ev. Unknown references and unknown subscribers are
// acknowledged with a nil error; only persistence failures return an error,
// wrapping ErrPersistence.
func (r *Router) Route(ctx context.Context, ev PaymentEvent) (Result, error) {
	now := r.now().UTC()
	trigger := TriggerFor(ev.Type, ev.Status)
	logger := r.logger.With("event_id", ev.EventID, "event_type", ev.Type, "status", ev.Status)

	ref, hasRef := ParseReference(ev.ExternalReference)
	if needsReference(ev.Type) && !hasRef {
		logger.Warn("unknown external reference", "external_reference", ev.ExternalReference)
		r.emit(ctx, events.New(events.WebhookUnknownReference, slog.LevelWarn,
			"event_id", ev.EventID, "event_type", string(ev.Type), "external_reference", ev.ExternalReference))
		return Result{Disposition: DispositionUnknownReference}, nil
	}

	var (
		res        Result
		activation *notify.Activation
	)
	duplicate, err := r.guard.Once(ctx, ev.EventID, string(ev.Type), now, func(tx *database.Tx) error {
		if trigger == TriggerNone {
			res.Disposition = DispositionIgnored
			return nil
		}

		subs := r.subscribers.WithTx(tx)
		sub, err := r.lookup(ctx, subs, ev, ref, hasRef)
		if errors.Is(err, store.ErrNotFound) {
			return ErrSubscriberNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: lookup subscriber: %w", ErrPersistence, err)
		}

		in := Input{Trigger: trigger, Tier: ref.Tier, CustomerRef: ev.PayerRef}
		if trigger == TriggerAuthorized {
			in.SubscriptionRef = ev.PreapprovalID
		}
		next, out := Apply(sub, in, now)
		res = Result{SubscriberID: sub.ID, From: out.From, To: out.To, Disposition: DispositionUnchanged}
		if !out.Changed {
			return nil
		}

		if err := subs.Update(ctx, next, now); err != nil {
			return fmt.Errorf("%w: update subscriber: %w", ErrPersistence, err)
		}
		res.Disposition = DispositionApplied

		if out.Activated {
			amount := r.amount(ev, next.PlanTier)
			err := r.history.WithTx(tx).Append(ctx, &model.PaymentHistoryEntry{
				SubscriberID: next.ID,
				EventID:      ev.EventID,
				Amount:       amount,
				Status:       ev.Status,
				PlanTier:     next.PlanTier,
				CreatedAt:    now,
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrPersistence, err)
			}
			if out.From != model.StatusActive {
				activation = &notify.Activation{
					SubscriberID:  next.ID,
					Email:         next.Email,
					PlanTier:      next.PlanTier,
					Amount:        amount,
					PaidAt:        *next.LastPaymentAt,
					NextPaymentAt: *next.NextPaymentAt,
					EventID:       ev.EventID,
				}
			}
		}
		return nil
	})

	switch {
	case duplicate:
		logger.Info("duplicate event")
		r.emit(ctx, events.New(events.WebhookDuplicate, slog.LevelInfo, "event_id", ev.EventID))
		return Result{Disposition: DispositionDuplicate}, nil
	case errors.Is(err, ErrSubscriberNotFound):
		logger.Warn("subscriber not found", "payer", ev.PayerRef, "external_reference", ev.ExternalReference)
		r.emit(ctx, events.New(events.WebhookSubscriberAbsent, slog.LevelWarn,
			"event_id", ev.EventID, "event_type", string(ev.Type), "payer", ev.PayerRef))
		return Result{Disposition: DispositionSubscriberNotFound}, nil
	case err != nil:
		logger.Error("apply event", "error", err)
		r.emit(ctx, events.New(events.WebhookPersistenceError, slog.LevelError,
			"event_id", ev.EventID, "event_type", string(ev.Type), "error", err.Error()))
		return Result{}, err
	}

	logger.Info("event processed", "disposition", res.Disposition, "subscriber_id", res.SubscriberID, "from", res.From, "to", res.To)
	r.emit(ctx, events.New(events.WebhookProcessed, slog.LevelInfo,
		"event_id", ev.EventID, "event_type", string(ev.Type), "disposition", string(res.Disposition),
		"subscriber_id", res.SubscriberID, "from", string(res.From), "to", string(res.To)))

	if activation != nil && r.activations != nil {
		r.activations.Dispatch(*activation)
	}
	return res, nil
}

func needsReference(t EventType) bool {
	return t == EventPayment || t == EventAuthorizedPayment
}

func (r *Router) amount(ev PaymentEvent, tier model.PlanTier) int64 {
	if ev.Amount != nil {
		return *ev.Amount
	}
	return r.prices[tier]
}

type lookupFunc func() (*model.Subscriber, error)

// lookup tries each key for the event type in order and returns the first
// match, or store.ErrNotFound.
func (r *Router) lookup(ctx context.Context, subs *store.SubscriberStore, ev PaymentEvent, ref Reference, hasRef bool) (*model.Subscriber, error) {
	var steps []lookupFunc
	bySubscriptionRef := func(key string) lookupFunc {
		return func() (*model.Subscriber, error) { return subs.GetBySubscriptionRef(ctx, key) }
	}
	byCustomerRef := func(key string) lookupFunc {
		return func() (*model.Subscriber, error) { return subs.GetByCustomerRef(ctx, key) }
	}
	byID := func(key string) lookupFunc {
		return func() (*model.Subscriber, error) { return subs.GetByID(ctx, key) }
	}

	switch ev.Type {
	case EventAuthorizedPayment:
		if ev.PreapprovalID != "" {
			steps = append(steps, bySubscriptionRef(ev.PreapprovalID))
		}
	case EventCancelled, EventSuspended:
		if ev.DataID != "" {
			steps = append(steps, bySubscriptionRef(ev.DataID))
		}
	}
	if ev.PayerRef != "" {
		steps = append(steps, byCustomerRef(ev.PayerRef))
	}
	if hasRef {
		steps = append(steps, byID(ref.SubscriberRef), byCustomerRef(ref.SubscriberRef))
	}

	for _, step := range steps {
		sub, err := step()
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, store.ErrNotFound
}

func (r *Router) emit(ctx context.Context, ev events.Event) {
	events.Emit(ctx, r.sink, r.logger, ev)
}
