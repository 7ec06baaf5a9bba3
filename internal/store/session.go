package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// ErrSessionExpired is returned for a token whose session is past its expiry.
var ErrSessionExpired = errors.New("session expired")

type SessionStore struct {
	q database.Querier
}

func NewSessionStore(db *database.DB) *SessionStore {
	return &SessionStore{q: db}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create starts a session for subscriberID lasting ttl.
func (s *SessionStore) Create(ctx context.Context, subscriberID string, ttl time.Duration, now time.Time) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)

	_, err = s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO sessions (token, subscriber_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
		token, subscriberID, expiresAt.Unix(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &model.Session{Token: token, SubscriberID: subscriberID, ExpiresAt: expiresAt, CreatedAt: now}, nil
}

// GetByToken resolves a session. Unknown tokens yield ErrNotFound and
// expired ones ErrSessionExpired.
func (s *SessionStore) GetByToken(ctx context.Context, token string, now time.Time) (*model.Session, error) {
	var (
		sess    model.Session
		expires int64
	)
	err := s.q.QueryRowContext(ctx, s.q.Rebind(
		`SELECT token, subscriber_id, expires_at, created_at FROM sessions WHERE token = ?`), token,
	).Scan(&sess.Token, &sess.SubscriberID, &expires, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.ExpiresAt = time.Unix(expires, 0).UTC()
	if !now.Before(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM sessions WHERE token = ?`), token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before now and returns how many
// were removed.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
