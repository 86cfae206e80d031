package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/database"
	"keyward/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewSQLiteStore(db)
}

func newTestKey(hash string, now time.Time, maxActivations int) *models.LicenseKey {
	return &models.LicenseKey{
		KeyHash:        hash,
		LicenseType:    models.LicenseTypePro,
		CreatedAt:      now,
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
		IsActive:       true,
		MaxActivations: maxActivations,
	}
}

func TestSQLiteStore_AddKey(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()

	require.NoError(t, s.AddKey(ctx, newTestKey("hash-1", now, 1)))
	err := s.AddKey(ctx, newTestKey("hash-1", now, 1))
	assert.ErrorIs(t, err, ErrDuplicate)

	key, err := s.GetKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, models.LicenseTypePro, key.LicenseType)
	assert.True(t, key.IsActive)
	assert.False(t, key.IsUsed)

	_, err = s.GetKeyByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ConcurrentAddKey(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()

	const workers = 8
	var wg sync.WaitGroup
	var added, duplicates atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AddKey(ctx, newTestKey("hash-race", now, 1))
			switch {
			case err == nil:
				added.Add(1)
			case errors.Is(err, ErrDuplicate):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, int32(workers-1), duplicates.Load())
}

func TestSQLiteStore_Redeem(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()
	require.NoError(t, s.AddKey(ctx, newTestKey("hash-1", now, 1)))

	req := RedeemRequest{KeyHash: "hash-1", ClientIP: "10.0.0.1", ClientInfo: "agent_a", Now: now}

	reason, err := s.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSuccess, reason)

	reason, err = s.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonKeyAlreadyUsed, reason)

	reason, err = s.Redeem(ctx, RedeemRequest{KeyHash: "unknown", Now: now})
	require.NoError(t, err)
	assert.Equal(t, models.ReasonKeyNotFound, reason)

	key, err := s.GetKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, key.IsUsed)
	assert.Equal(t, 1, key.ActivationCount)
	assert.Equal(t, "agent_a", key.ClientInfo)
	require.NotNil(t, key.UsedAt)

	logs, total, err := s.ListActivationLogs(ctx, LogFilter{}, models.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, logs, 3)

	hash := "hash-1"
	logs, total, err = s.ListActivationLogs(ctx, LogFilter{KeyHash: &hash}, models.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, l := range logs {
		assert.Equal(t, "hash-1", l.KeyHash)
	}

	success := true
	logs, total, err = s.ListActivationLogs(ctx, LogFilter{Success: &success}, models.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ReasonSuccess, logs[0].Reason)
	assert.Equal(t, "10.0.0.1", logs[0].ClientIP)
}

func TestSQLiteStore_RedeemMultipleActivations(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()
	require.NoError(t, s.AddKey(ctx, newTestKey("hash-m", now, 2)))

	req := RedeemRequest{KeyHash: "hash-m", Now: now, Policy: models.ActivationPolicy{AllowMultipleActivations: true}}
	for i := 0; i < 2; i++ {
		reason, err := s.Redeem(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonSuccess, reason)
	}
	reason, err := s.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonQuotaExhausted, reason)
}

func TestSQLiteStore_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()
	require.NoError(t, s.AddKey(ctx, newTestKey("hash-c", now, 1)))

	const workers = 20
	var wg sync.WaitGroup
	reasons := make(chan models.Reason, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reason, err := s.Redeem(ctx, RedeemRequest{KeyHash: "hash-c", Now: now})
			assert.NoError(t, err)
			reasons <- reason
		}()
	}
	wg.Wait()
	close(reasons)

	successes := 0
	for r := range reasons {
		if r == models.ReasonSuccess {
			successes++
		} else {
			assert.Equal(t, models.ReasonKeyAlreadyUsed, r)
		}
	}
	assert.Equal(t, 1, successes)

	key, err := s.GetKeyByHash(ctx, "hash-c")
	require.NoError(t, err)
	assert.Equal(t, 1, key.ActivationCount)

	_, total, err := s.ListActivationLogs(ctx, LogFilter{}, models.PaginationParams{Page: 1, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, workers, total)
}

func TestSQLiteStore_RevokeAndStats(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Now()

	require.NoError(t, s.AddKey(ctx, newTestKey("a", now, 1)))
	require.NoError(t, s.AddKey(ctx, newTestKey("b", now, 1)))
	expired := newTestKey("c", now.Add(-60*24*time.Hour), 1)
	require.NoError(t, s.AddKey(ctx, expired))

	_, err := s.Redeem(ctx, RedeemRequest{KeyHash: "a", Now: now})
	require.NoError(t, err)

	require.NoError(t, s.RevokeKey(ctx, "b"))
	assert.ErrorIs(t, s.RevokeKey(ctx, "missing"), ErrNotFound)

	reason, err := s.Redeem(ctx, RedeemRequest{KeyHash: "b", Now: now})
	require.NoError(t, err)
	assert.Equal(t, models.ReasonKeyInactive, reason)

	stats, err := s.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, 2, stats.ActiveKeys)
	assert.Equal(t, 1, stats.UsedKeys)
	assert.Equal(t, 1, stats.ExpiredKeys)
}

func TestSQLiteStore_RecordAttempt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.RecordAttempt(ctx, &models.ActivationLog{
		ClientIP: "127.0.0.1",
		Reason:   models.ReasonInvalidFormat,
	}))

	logs, total, err := s.ListActivationLogs(ctx, LogFilter{}, models.PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].KeyHash)
	assert.False(t, logs[0].Success)
	assert.False(t, logs[0].Timestamp.IsZero())
}
