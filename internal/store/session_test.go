package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriberStore(db)
	ss := NewSessionStore(db)
	ctx := context.Background()

	sub, err := subs.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	sess, err := ss.Create(ctx, sub.ID, time.Hour, testNow)
	require.NoError(t, err)
	assert.Len(t, sess.Token, 64) // 32 bytes hex-encoded

	got, err := ss.GetByToken(ctx, sess.Token, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.SubscriberID)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))
}

func TestSessionGetByTokenErrors(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriberStore(db)
	ss := NewSessionStore(db)
	ctx := context.Background()

	_, err := ss.GetByToken(ctx, "nonexistent", testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	sub, err := subs.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)
	sess, err := ss.Create(ctx, sub.ID, time.Hour, testNow)
	require.NoError(t, err)

	_, err = ss.GetByToken(ctx, sess.Token, testNow.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionDelete(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriberStore(db)
	ss := NewSessionStore(db)
	ctx := context.Background()

	sub, _ := subs.Create(ctx, "a@example.com", 14, testNow)
	sess, err := ss.Create(ctx, sub.ID, time.Hour, testNow)
	require.NoError(t, err)

	require.NoError(t, ss.Delete(ctx, sess.Token))
	_, err = ss.GetByToken(ctx, sess.Token, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriberStore(db)
	ss := NewSessionStore(db)
	ctx := context.Background()

	sub, _ := subs.Create(ctx, "a@example.com", 14, testNow)
	_, err := ss.Create(ctx, sub.ID, time.Hour, testNow)
	require.NoError(t, err)
	keep, err := ss.Create(ctx, sub.ID, 48*time.Hour, testNow)
	require.NoError(t, err)

	n, err := ss.DeleteExpired(ctx, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = ss.GetByToken(ctx, keep.Token, testNow.Add(24*time.Hour))
	assert.NoError(t, err)
}
