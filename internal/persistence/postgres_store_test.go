package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set TEST_POSTGRES_DSN to run the store contract against a real database.
func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) *sqlStore {
		t.Helper()
		ctx := context.Background()
		store, err := NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		_, err = store.db.ExecContext(ctx, `TRUNCATE job_items, jobs, content_items, rewrite_history RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		store.SetClock(newSteppingClock().Now)
		return store.sqlStore
	})
}
