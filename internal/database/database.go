// Package database opens the relational metadata store and keeps its schema
// current. Two dialects are supported: PostgreSQL through a pgx pool, and
// SQLite for single-node deployments and tests.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"framestack/internal/config"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) IsForeignKeyViolation(err error) bool {
	switch d {
	case DialectPostgres:
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23503"
	case DialectSQLite:
		code, msg, ok := sqliteCode(err)
		return ok && (code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "FOREIGN KEY")))
	}
	return false
}

func (d Dialect) IsUniqueViolation(err error) bool {
	switch d {
	case DialectPostgres:
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	case DialectSQLite:
		code, msg, ok := sqliteCode(err)
		return ok && (code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE")))
	}
	return false
}

func sqliteCode(err error) (int, string, bool) {
	var sErr *sqlite.Error
	if !errors.As(err, &sErr) {
		return 0, "", false
	}
	return sErr.Code(), sErr.Error(), true
}

// DB is a migrated metadata database.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	pool    *pgxpool.Pool
}

func Open(ctx context.Context, meta config.MetadataConfig, pg config.PostgresConfig) (*DB, error) {
	var db *DB
	switch Dialect(meta.Driver) {
	case DialectPostgres:
		pool, err := NewPostgresPool(ctx, pg)
		if err != nil {
			return nil, err
		}
		db = &DB{SQL: stdlib.OpenDBFromPool(pool), Dialect: DialectPostgres, pool: pool}
	case DialectSQLite:
		sqlDB, err := NewSQLite(meta.SQLitePath)
		if err != nil {
			return nil, err
		}
		db = &DB{SQL: sqlDB, Dialect: DialectSQLite}
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", meta.Driver)
	}

	if err := Migrate(ctx, db.SQL, db.Dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.SQL.PingContext(ctx)
}

func (d *DB) Close() error {
	err := d.SQL.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}
