package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"keyward/internal/database"
	"keyward/internal/models"
)

func TestPostgresKeyStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("keyward_test_store"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate postgres container: %s", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	absPath, _ := filepath.Abs("../../migrations")
	require.NoError(t, database.Migrate(connStr, absPath))

	pool, err := database.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	keyStore := NewPostgresKeyStore(pool)
	logStore := NewPostgresLogStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("AddKey", func(t *testing.T) {
		require.NoError(t, keyStore.AddKey(ctx, newTestKey("pg-1", now, 1)))
		assert.ErrorIs(t, keyStore.AddKey(ctx, newTestKey("pg-1", now, 1)), ErrDuplicate)

		key, err := keyStore.GetKeyByHash(ctx, "pg-1")
		require.NoError(t, err)
		assert.Equal(t, models.LicenseTypePro, key.LicenseType)
		assert.True(t, key.ExpiresAt.Equal(now.Add(30*24*time.Hour)))

		_, err = keyStore.GetKeyByHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Redeem", func(t *testing.T) {
		req := RedeemRequest{KeyHash: "pg-1", ClientIP: "10.1.1.1", ClientInfo: "agent_pg", Now: now}
		reason, err := keyStore.Redeem(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonSuccess, reason)

		reason, err = keyStore.Redeem(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonKeyAlreadyUsed, reason)

		reason, err = keyStore.Redeem(ctx, RedeemRequest{KeyHash: "nope", Now: now})
		require.NoError(t, err)
		assert.Equal(t, models.ReasonKeyNotFound, reason)

		hash := "pg-1"
		logs, total, err := logStore.ListActivationLogs(ctx, LogFilter{KeyHash: &hash}, models.PaginationParams{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, logs, 2)
	})

	t.Run("ConcurrentRedeem", func(t *testing.T) {
		require.NoError(t, keyStore.AddKey(ctx, newTestKey("pg-c", now, 1)))

		const workers = 25
		var wg sync.WaitGroup
		results := make(chan models.Reason, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reason, err := keyStore.Redeem(ctx, RedeemRequest{KeyHash: "pg-c", Now: now})
				assert.NoError(t, err)
				results <- reason
			}()
		}
		wg.Wait()
		close(results)

		successes := 0
		for r := range results {
			if r == models.ReasonSuccess {
				successes++
			}
		}
		assert.Equal(t, 1, successes)

		key, err := keyStore.GetKeyByHash(ctx, "pg-c")
		require.NoError(t, err)
		assert.Equal(t, 1, key.ActivationCount)
	})

	t.Run("RevokeAndStats", func(t *testing.T) {
		require.NoError(t, keyStore.AddKey(ctx, newTestKey("pg-r", now, 1)))
		require.NoError(t, keyStore.AddKey(ctx, newTestKey("pg-old", now.Add(-60*24*time.Hour), 1)))

		require.NoError(t, keyStore.RevokeKey(ctx, "pg-r"))
		assert.ErrorIs(t, keyStore.RevokeKey(ctx, "missing"), ErrNotFound)

		reason, err := keyStore.Redeem(ctx, RedeemRequest{KeyHash: "pg-r", Now: now})
		require.NoError(t, err)
		assert.Equal(t, models.ReasonKeyInactive, reason)

		require.NoError(t, keyStore.RecordAttempt(ctx, &models.ActivationLog{Reason: models.ReasonInvalidFormat, Timestamp: now}))

		stats, err := keyStore.Stats(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalKeys)
		assert.Equal(t, 3, stats.ActiveKeys)
		assert.Equal(t, 2, stats.UsedKeys)
		assert.Equal(t, 1, stats.ExpiredKeys)
	})
}
