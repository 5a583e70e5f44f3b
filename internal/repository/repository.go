package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"framestack/internal/database"
)

var (
	ErrPersistence         = errors.New("metadata persistence failed")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrConflict            = errors.New("unique constraint violated")
	ErrDuplicateLocator    = fmt.Errorf("image locator already registered: %w", ErrConflict)
	ErrImageNotFound       = errors.New("image not found")
	ErrPictureNotFound     = errors.New("picture not found")
	ErrOwnerNotFound       = errors.New("owner not found")
)

// Repository stores image and picture metadata. Every method is safe for
// concurrent use.
type Repository struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{
		db:      db.SQL,
		dialect: db.Dialect,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (r *Repository) q(query string) string {
	return r.dialect.Rebind(query)
}

// wrap classifies a driver error into the package sentinels while keeping
// the cause reachable through errors.Is.
func (r *Repository) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case r.dialect.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrForeignKeyViolation, err)
	case r.dialect.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
