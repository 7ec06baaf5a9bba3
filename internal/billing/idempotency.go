package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/store"
)

// Guard applies each provider event at most once. The ledger insert and the
// mutation share one transaction, so either both persist or neither does.
type Guard struct {
	db     *database.DB
	ledger *store.LedgerStore
}

func NewGuard(db *database.DB) *Guard {
	return &Guard{db: db, ledger: store.NewLedgerStore(db)}
}

// Once records eventID and runs fn in the same transaction. When eventID is
// already recorded fn is not called and duplicate is true. An error from fn
// rolls back the ledger row too and is returned unchanged.
func (g *Guard) Once(ctx context.Context, eventID, eventType string, now time.Time, fn func(tx *database.Tx) error) (duplicate bool, err error) {
	err = g.db.InTx(ctx, func(tx *database.Tx) error {
		inserted, err := g.ledger.WithTx(tx).Record(ctx, eventID, eventType, now)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if !inserted {
			duplicate = true
			return nil
		}
		return fn(tx)
	})
	if err != nil && !errors.Is(err, ErrPersistence) && !isDomainOutcome(err) {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return duplicate, err
}

// isDomainOutcome reports errors that roll back the transaction without being
// storage failures.
func isDomainOutcome(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound) || errors.Is(err, ErrUnknownExternalReference)
}
