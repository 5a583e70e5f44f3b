package database

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewSQLite opens an embedded database. Pragmas are passed in the DSN so that
// every pooled connection enforces foreign keys. ":memory:" databases are
// private to a connection, so the pool is pinned to one.
func NewSQLite(path string) (*sql.DB, error) {
	memory := path == ":memory:"
	q := url.Values{}
	for _, p := range sqlitePragmas {
		if memory && p == "journal_mode(WAL)" {
			continue
		}
		q.Add("_pragma", p)
	}
	// Stored timestamps sort lexically, which the grace-period queries rely on.
	q.Set("_time_format", "sqlite")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
