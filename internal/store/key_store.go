package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyward/internal/models"
)

// RedeemRequest carries one validation attempt for an already hashed key.
type RedeemRequest struct {
	KeyHash    string
	ClientIP   string
	ClientInfo string
	Now        time.Time
	Policy     models.ActivationPolicy
}

type KeyStore interface {
	AddKey(ctx context.Context, key *models.LicenseKey) error
	// Redeem performs the guarded ISSUED/ACTIVATED -> ACTIVATED transition and
	// writes the audit entry in the same transaction. Business rejections are
	// returned as a Reason, only storage faults are errors.
	Redeem(ctx context.Context, req RedeemRequest) (models.Reason, error)
	RecordAttempt(ctx context.Context, entry *models.ActivationLog) error
	RevokeKey(ctx context.Context, keyHash string) error
	GetKeyByHash(ctx context.Context, keyHash string) (*models.LicenseKey, error)
	Stats(ctx context.Context, now time.Time) (models.KeyStats, error)
}

type PostgresKeyStore struct {
	DB *pgxpool.Pool
}

func NewPostgresKeyStore(db *pgxpool.Pool) *PostgresKeyStore {
	return &PostgresKeyStore{DB: db}
}

const keyColumns = `id, key_hash, license_type, created_at, expires_at, is_active, is_used, used_at,
	COALESCE(client_info, ''), activation_count, max_activations`

func scanKey(row pgx.Row) (*models.LicenseKey, error) {
	var k models.LicenseKey
	err := row.Scan(
		&k.ID,
		&k.KeyHash,
		&k.LicenseType,
		&k.CreatedAt,
		&k.ExpiresAt,
		&k.IsActive,
		&k.IsUsed,
		&k.UsedAt,
		&k.ClientInfo,
		&k.ActivationCount,
		&k.MaxActivations,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresKeyStore) AddKey(ctx context.Context, key *models.LicenseKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	query := `
		INSERT INTO license_keys (
			id, key_hash, license_type, created_at, expires_at, is_active, is_used, activation_count, max_activations
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	_, err := s.DB.Exec(ctx, query,
		key.ID,
		key.KeyHash,
		key.LicenseType,
		key.CreatedAt,
		key.ExpiresAt,
		key.IsActive,
		key.IsUsed,
		key.ActivationCount,
		key.MaxActivations,
	)
	if err != nil {
		return keyError("create", err)
	}
	return nil
}

func (s *PostgresKeyStore) Redeem(ctx context.Context, req RedeemRequest) (models.Reason, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var reason models.Reason
	key, err := scanKey(tx.QueryRow(ctx, `SELECT `+keyColumns+` FROM license_keys WHERE key_hash = $1 FOR UPDATE`, req.KeyHash))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		reason = models.ReasonKeyNotFound
	case err != nil:
		return "", fmt.Errorf("failed to lock license key: %w", err)
	default:
		reason = key.CheckRedeemable(req.Now, req.Policy)
	}

	if reason == models.ReasonSuccess {
		tag, err := tx.Exec(ctx, `
			UPDATE license_keys SET
				is_used = TRUE,
				used_at = $2,
				client_info = $3,
				activation_count = activation_count + 1
			WHERE id = $1
				AND activation_count = $4
				AND activation_count < max_activations
				AND is_active
		`, key.ID, req.Now, req.ClientInfo, key.ActivationCount)
		if err != nil {
			return "", fmt.Errorf("failed to redeem license key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			reason = models.ReasonQuotaExhausted
		}
	}

	if err := insertActivationLog(ctx, tx, &models.ActivationLog{
		KeyHash:    req.KeyHash,
		Timestamp:  req.Now,
		ClientIP:   req.ClientIP,
		ClientInfo: req.ClientInfo,
		Success:    reason == models.ReasonSuccess,
		Reason:     reason,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reason, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertActivationLog(ctx context.Context, db execer, entry *models.ActivationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	query := `
		INSERT INTO activation_logs (id, key_hash, timestamp, client_ip, client_info, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := db.Exec(ctx, query,
		entry.ID,
		entry.KeyHash,
		entry.Timestamp,
		entry.ClientIP,
		entry.ClientInfo,
		entry.Success,
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to create activation log: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) RecordAttempt(ctx context.Context, entry *models.ActivationLog) error {
	return insertActivationLog(ctx, s.DB, entry)
}

func (s *PostgresKeyStore) RevokeKey(ctx context.Context, keyHash string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE license_keys SET is_active = FALSE WHERE key_hash = $1`, keyHash)
	if err != nil {
		return fmt.Errorf("failed to revoke license key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: license key", ErrNotFound)
	}
	return nil
}

func (s *PostgresKeyStore) GetKeyByHash(ctx context.Context, keyHash string) (*models.LicenseKey, error) {
	key, err := scanKey(s.DB.QueryRow(ctx, `SELECT `+keyColumns+` FROM license_keys WHERE key_hash = $1`, keyHash))
	if err != nil {
		return nil, keyError("get", err)
	}
	return key, nil
}

func (s *PostgresKeyStore) Stats(ctx context.Context, now time.Time) (models.KeyStats, error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE is_active),
			count(*) FILTER (WHERE is_used),
			count(*) FILTER (WHERE expires_at < $1)
		FROM license_keys
	`
	var stats models.KeyStats
	err := s.DB.QueryRow(ctx, query, now).Scan(
		&stats.TotalKeys,
		&stats.ActiveKeys,
		&stats.UsedKeys,
		&stats.ExpiredKeys,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to get key stats: %w", err)
	}
	return stats, nil
}
