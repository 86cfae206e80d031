package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Sentinels returned by every store backend, for use with errors.Is().
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const pgUniqueViolation = "23505"

// keyError maps backend errors for a license key row onto the sentinels.
// Anything else is wrapped with the failed operation.
func keyError(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation,
		errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: license key", ErrDuplicate)
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: license key", ErrNotFound)
	default:
		return fmt.Errorf("failed to %s license key: %w", op, err)
	}
}
