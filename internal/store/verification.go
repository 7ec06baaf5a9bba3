package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
)

var (
	// ErrTokenExpired is returned for a verification token past its expiry.
	ErrTokenExpired = errors.New("verification token expired")
	// ErrTokenUsed is returned for a verification token that was already consumed.
	ErrTokenUsed = errors.New("verification token already used")
)

// VerificationStore keeps single-use email verification tokens. Only the
// SHA-256 of a token is stored.
type VerificationStore struct {
	db *database.DB
}

func NewVerificationStore(db *database.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token for subscriberID valid for ttl and returns it with its
// expiry. Earlier unused tokens for the subscriber stop working.
func (s *VerificationStore) Issue(ctx context.Context, subscriberID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now = now.UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)

	err = s.db.InTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM email_verifications WHERE subscriber_id = ? AND used_at IS NULL`), subscriberID,
		); err != nil {
			return fmt.Errorf("revoke verifications: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO email_verifications (token_hash, subscriber_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
			hashToken(token), subscriberID, expiresAt.Unix(), now,
		); err != nil {
			return fmt.Errorf("insert verification: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Consume spends token and marks its subscriber's email verified in the same
// transaction. It returns the subscriber ID. Unknown tokens yield ErrNotFound.
func (s *VerificationStore) Consume(ctx context.Context, token string, now time.Time) (string, error) {
	now = now.UTC()
	var subscriberID string
	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		var (
			expires int64
			usedAt  sql.NullTime
		)
		hash := hashToken(token)
		err := tx.QueryRowContext(ctx, tx.Rebind(
			`SELECT subscriber_id, expires_at, used_at FROM email_verifications WHERE token_hash = ?`), hash,
		).Scan(&subscriberID, &expires, &usedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get verification: %w", err)
		}
		if usedAt.Valid {
			return ErrTokenUsed
		}
		if !now.Before(time.Unix(expires, 0)) {
			return ErrTokenExpired
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE email_verifications SET used_at = ? WHERE token_hash = ? AND used_at IS NULL`), now, hash)
		if err != nil {
			return fmt.Errorf("consume verification: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrTokenUsed
			}
			return err
		}
		return (&SubscriberStore{q: tx}).MarkEmailVerified(ctx, subscriberID, now)
	})
	if err != nil {
		return "", err
	}
	return subscriberID, nil
}
