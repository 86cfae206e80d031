package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"keyward/internal/models"
)

// SQLiteStore implements KeyStore and LogStore on an embedded database opened
// with database.OpenSQLite.
type SQLiteStore struct {
	DB *gorm.DB
}

func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func (s *SQLiteStore) AddKey(ctx context.Context, key *models.LicenseKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.CreatedAt = key.CreatedAt.UTC()
	key.ExpiresAt = key.ExpiresAt.UTC()

	// the unique index on key_hash rejects duplicates
	if err := s.DB.WithContext(ctx).Create(key).Error; err != nil {
		return keyError("create", err)
	}
	return nil
}

func (s *SQLiteStore) Redeem(ctx context.Context, req RedeemRequest) (models.Reason, error) {
	now := req.Now.UTC()
	var reason models.Reason

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key models.LicenseKey
		err := tx.Where("key_hash = ?", req.KeyHash).Take(&key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			reason = models.ReasonKeyNotFound
		case err != nil:
			return fmt.Errorf("failed to load license key: %w", err)
		default:
			reason = key.CheckRedeemable(now, req.Policy)
		}

		if reason == models.ReasonSuccess {
			res := tx.Model(&models.LicenseKey{}).
				Where("id = ? AND activation_count = ? AND activation_count < max_activations AND is_active = ?", key.ID, key.ActivationCount, true).
				Updates(map[string]interface{}{
					"is_used":          true,
					"used_at":          now,
					"client_info":      req.ClientInfo,
					"activation_count": gorm.Expr("activation_count + 1"),
				})
			if res.Error != nil {
				return fmt.Errorf("failed to redeem license key: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				reason = models.ReasonQuotaExhausted
			}
		}

		entry := &models.ActivationLog{
			ID:         uuid.New(),
			KeyHash:    req.KeyHash,
			Timestamp:  now,
			ClientIP:   req.ClientIP,
			ClientInfo: req.ClientInfo,
			Success:    reason == models.ReasonSuccess,
			Reason:     reason,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to create activation log: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reason, nil
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, entry *models.ActivationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create activation log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RevokeKey(ctx context.Context, keyHash string) error {
	res := s.DB.WithContext(ctx).Model(&models.LicenseKey{}).Where("key_hash = ?", keyHash).Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to revoke license key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: license key", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetKeyByHash(ctx context.Context, keyHash string) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := s.DB.WithContext(ctx).Where("key_hash = ?", keyHash).Take(&key).Error
	if err != nil {
		return nil, keyError("get", err)
	}
	return &key, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (models.KeyStats, error) {
	var stats models.KeyStats
	db := s.DB.WithContext(ctx).Model(&models.LicenseKey{})

	counts := []struct {
		where string
		args  []interface{}
		dst   *int
	}{
		{"1 = 1", nil, &stats.TotalKeys},
		{"is_active = ?", []interface{}{true}, &stats.ActiveKeys},
		{"is_used = ?", []interface{}{true}, &stats.UsedKeys},
		{"expires_at < ?", []interface{}{now.UTC()}, &stats.ExpiredKeys},
	}
	for _, c := range counts {
		var n int64
		if err := db.Session(&gorm.Session{}).Where(c.where, c.args...).Count(&n).Error; err != nil {
			return stats, fmt.Errorf("failed to get key stats: %w", err)
		}
		*c.dst = int(n)
	}
	return stats, nil
}

func (s *SQLiteStore) ListActivationLogs(ctx context.Context, filter LogFilter, pagination models.PaginationParams) ([]models.ActivationLog, int, error) {
	q := s.DB.WithContext(ctx).Model(&models.ActivationLog{})
	if filter.KeyHash != nil {
		q = q.Where("key_hash = ?", *filter.KeyHash)
	}
	if filter.Success != nil {
		q = q.Where("success = ?", *filter.Success)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of activation logs: %w", err)
	}

	limit, offset := pagination.Offset()
	var logs []models.ActivationLog
	if err := q.Order("timestamp DESC").Order("id").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query activation logs: %w", err)
	}
	return logs, int(total), nil
}
