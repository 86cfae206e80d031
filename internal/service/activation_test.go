package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keyward/internal/database"
	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSQLiteEngine(t *testing.T, opts ActivationOptions) (*ActivationEngine, *store.SQLiteStore) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	s := store.NewSQLiteStore(db)
	return NewActivationEngine(s, NewKeyCodec(16), opts), s
}

type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) AddKey(ctx context.Context, key *models.LicenseKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockKeyStore) Redeem(ctx context.Context, req store.RedeemRequest) (models.Reason, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Reason), args.Error(1)
}

func (m *MockKeyStore) RecordAttempt(ctx context.Context, entry *models.ActivationLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockKeyStore) RevokeKey(ctx context.Context, keyHash string) error {
	args := m.Called(ctx, keyHash)
	return args.Error(0)
}

func (m *MockKeyStore) GetKeyByHash(ctx context.Context, keyHash string) (*models.LicenseKey, error) {
	args := m.Called(ctx, keyHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LicenseKey), args.Error(1)
}

func (m *MockKeyStore) Stats(ctx context.Context, now time.Time) (models.KeyStats, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(models.KeyStats), args.Error(1)
}

func TestActivationEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	engine, s := newSQLiteEngine(t, ActivationOptions{Clock: clock.Now})

	key, err := engine.Codec().Encode(models.LicenseTypeBusiness)
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Equal(t, "BUS", key[:3])

	added, err := engine.AddKey(ctx, key, models.LicenseTypeBusiness, 14)
	require.NoError(t, err)
	assert.True(t, added)

	attempt := Attempt{Key: key, LicenseType: models.LicenseTypeBusiness, ClientIP: "192.0.2.1", ClientInfo: "agent_x"}

	result := engine.Validate(ctx, attempt)
	assert.True(t, result.OK())
	assert.Equal(t, models.ReasonSuccess, result.Reason)

	stored, err := s.GetKeyByHash(ctx, security.HashKey(key))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ActivationCount)
	assert.True(t, stored.IsUsed)

	result = engine.Validate(ctx, attempt)
	assert.Equal(t, models.ReasonKeyAlreadyUsed, result.Reason)
	assert.Equal(t, models.KindBusiness, result.Kind)

	clock.Advance(15 * 24 * time.Hour)
	result = engine.Validate(ctx, attempt)
	assert.Equal(t, models.ReasonKeyExpired, result.Reason)

	hash := security.HashKey(key)
	logs, total, err := s.ListActivationLogs(ctx, store.LogFilter{KeyHash: &hash}, models.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	reasons := map[models.Reason]bool{}
	for _, l := range logs {
		reasons[l.Reason] = true
	}
	assert.True(t, reasons[models.ReasonSuccess])
	assert.True(t, reasons[models.ReasonKeyAlreadyUsed])
	assert.True(t, reasons[models.ReasonKeyExpired])
}

func TestActivationEngine_AddKeyDuplicate(t *testing.T) {
	ctx := context.Background()
	engine, _ := newSQLiteEngine(t, ActivationOptions{})

	added, err := engine.AddKey(ctx, "PROABC123XYZ0000", models.LicenseTypePro, 0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = engine.AddKey(ctx, "PROABC123XYZ0000", models.LicenseTypePro, 0)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = engine.AddKey(ctx, "PROABC123XYZ0000", models.LicenseTypeStudent, 0)
	assert.Error(t, err)
}

func TestActivationEngine_InvalidFormatAudited(t *testing.T) {
	ctx := context.Background()
	engine, s := newSQLiteEngine(t, ActivationOptions{})

	result := engine.Validate(ctx, Attempt{Key: "PROABC123XYZ0000", LicenseType: models.LicenseTypeBusiness, ClientIP: "198.51.100.7"})
	assert.Equal(t, models.ReasonInvalidFormat, result.Reason)
	assert.Equal(t, models.KindFormat, result.Kind)

	result = engine.Validate(ctx, Attempt{Key: "PROABC123XYZ0001", LicenseType: models.LicenseTypePro})
	assert.Equal(t, models.ReasonKeyNotFound, result.Reason)

	logs, total, err := s.ListActivationLogs(ctx, store.LogFilter{}, models.PaginationParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, l := range logs {
		assert.False(t, l.Success)
		if l.Reason == models.ReasonInvalidFormat {
			assert.Empty(t, l.KeyHash)
			assert.Equal(t, "198.51.100.7", l.ClientIP)
		}
	}
}

func TestActivationEngine_ConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	engine, s := newSQLiteEngine(t, ActivationOptions{})

	key, err := engine.Codec().Encode(models.LicenseTypeStudent)
	require.NoError(t, err)
	added, err := engine.AddKey(ctx, key, models.LicenseTypeStudent, 30)
	require.NoError(t, err)
	require.True(t, added)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]models.Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Validate(ctx, Attempt{Key: key, LicenseType: models.LicenseTypeStudent})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r.OK() {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	stored, err := s.GetKeyByHash(ctx, security.HashKey(key))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ActivationCount)
}

func TestActivationEngine_MultipleActivations(t *testing.T) {
	ctx := context.Background()
	engine, _ := newSQLiteEngine(t, ActivationOptions{AllowMultipleActivations: true, MaxActivationsPerKey: 3})

	key, err := engine.Codec().Encode(models.LicenseTypePro)
	require.NoError(t, err)
	_, err = engine.AddKey(ctx, key, models.LicenseTypePro, 30)
	require.NoError(t, err)

	attempt := Attempt{Key: key, LicenseType: models.LicenseTypePro}
	for i := 0; i < 3; i++ {
		assert.True(t, engine.Validate(ctx, attempt).OK())
	}
	assert.Equal(t, models.ReasonQuotaExhausted, engine.Validate(ctx, attempt).Reason)
}

func TestActivationEngine_RevokeAndStats(t *testing.T) {
	ctx := context.Background()
	engine, _ := newSQLiteEngine(t, ActivationOptions{})

	key, err := engine.Codec().Encode(models.LicenseTypePro)
	require.NoError(t, err)
	_, err = engine.AddKey(ctx, key, models.LicenseTypePro, 30)
	require.NoError(t, err)

	require.NoError(t, engine.Revoke(ctx, key))
	assert.ErrorIs(t, engine.Revoke(ctx, "PRO0000000000000"), store.ErrNotFound)

	result := engine.Validate(ctx, Attempt{Key: key, LicenseType: models.LicenseTypePro})
	assert.Equal(t, models.ReasonKeyInactive, result.Reason)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalKeys)
	assert.Equal(t, 0, stats.ActiveKeys)
	assert.Equal(t, 0, stats.UsedKeys)
}

func TestActivationEngine_StorageFault(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockKeyStore)
	engine := NewActivationEngine(mockStore, NewKeyCodec(16), ActivationOptions{})

	mockStore.On("Redeem", mock.Anything, mock.Anything).Return(models.Reason(""), errors.New("connection reset by peer"))
	mockStore.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(e *models.ActivationLog) bool {
		return e.Reason == models.ReasonInternalError && !e.Success && e.KeyHash != ""
	})).Return(nil)

	result := engine.Validate(ctx, Attempt{Key: "PROABC123XYZ0000", LicenseType: models.LicenseTypePro})
	assert.Equal(t, models.KindInternal, result.Kind)
	assert.Equal(t, "Internal server error", result.Message)
	assert.NotContains(t, result.Message, "connection reset")

	mockStore.AssertExpectations(t)
}
