package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return db
}
