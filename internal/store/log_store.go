package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"keyward/internal/models"
)

// LogFilter narrows an audit trail query. Nil fields match everything.
type LogFilter struct {
	KeyHash *string
	Success *bool
}

type LogStore interface {
	ListActivationLogs(ctx context.Context, filter LogFilter, pagination models.PaginationParams) ([]models.ActivationLog, int, error)
}

type PostgresLogStore struct {
	DB *pgxpool.Pool
}

func NewPostgresLogStore(db *pgxpool.Pool) *PostgresLogStore {
	return &PostgresLogStore{DB: db}
}

func (s *PostgresLogStore) ListActivationLogs(ctx context.Context, filter LogFilter, pagination models.PaginationParams) ([]models.ActivationLog, int, error) {
	query := `
		SELECT id, key_hash, timestamp, client_ip, client_info, success, reason
		FROM activation_logs
		WHERE 1=1`
	countQuery := `SELECT count(*) FROM activation_logs WHERE 1=1`

	args := []interface{}{}
	if filter.KeyHash != nil {
		query += fmt.Sprintf(" AND key_hash = $%d", len(args)+1)
		countQuery += fmt.Sprintf(" AND key_hash = $%d", len(args)+1)
		args = append(args, *filter.KeyHash)
	}
	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", len(args)+1)
		countQuery += fmt.Sprintf(" AND success = $%d", len(args)+1)
		args = append(args, *filter.Success)
	}

	query += ` ORDER BY timestamp DESC, id`

	limit, offset := pagination.Offset()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var totalCount int
	err := s.DB.QueryRow(ctx, countQuery, args[:len(args)-2]...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of activation logs: %w", err)
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query activation logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivationLog
	for rows.Next() {
		var entry models.ActivationLog
		if err := rows.Scan(
			&entry.ID,
			&entry.KeyHash,
			&entry.Timestamp,
			&entry.ClientIP,
			&entry.ClientInfo,
			&entry.Success,
			&entry.Reason,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activation log: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate activation logs: %w", err)
	}

	return logs, totalCount, nil
}
