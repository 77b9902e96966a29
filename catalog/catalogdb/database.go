// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package catalogdb implements the catalog store over PostgreSQL, with a
// SQLite dialect used by tests and single-node deployments.
package catalogdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/catalog"
)

var (
	// Error is the catalogdb error class.
	Error = errs.Class("catalogdb")

	mon = monkit.Package()
)

// Implementation enumerates the SQL dialects.
type Implementation int

// Dialects.
const (
	Postgres Implementation = iota
	SQLite
)

// Options tunes the connection pool.
type Options struct {
	MaxConns int
}

// DB implements catalog.DB over database/sql.
type DB struct {
	log  *zap.Logger
	db   *sql.DB
	impl Implementation
}

// Open connects to the catalog database. postgres:// and postgresql:// URLs
// use the pgx stdlib driver; sqlite3:// URLs (and :memory:) use mattn's
// driver.
func Open(ctx context.Context, log *zap.Logger, databaseURL string, opts Options) (*DB, error) {
	driver, dsn, impl, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	handle, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if opts.MaxConns > 0 {
		handle.SetMaxOpenConns(opts.MaxConns)
		handle.SetMaxIdleConns(opts.MaxConns)
	}
	if impl == SQLite {
		// The sqlite driver serializes writes; a wide pool only produces
		// SQLITE_BUSY churn.
		handle.SetMaxOpenConns(1)
	}

	if err := handle.PingContext(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, handle.Close()))
	}

	return &DB{log: log, db: handle, impl: impl}, nil
}

func parseURL(databaseURL string) (driver, dsn string, impl Implementation, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return "pgx", databaseURL, Postgres, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(databaseURL, "sqlite3://"), SQLite, nil
	case databaseURL == ":memory:", strings.HasPrefix(databaseURL, "file:"):
		return "sqlite3", databaseURL, SQLite, nil
	default:
		return "", "", 0, Error.New("unsupported database URL %q", databaseURL)
	}
}

// rebind converts ?-style placeholders to the dialect's syntax.
func (db *DB) rebind(query string) string {
	if db.impl != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, tx.Rollback())
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

// Frames implements catalog.DB.
func (db *DB) Frames() catalog.Frames { return &frames{db} }

// Jobs implements catalog.DB.
func (db *DB) Jobs() catalog.Jobs { return &jobs{db} }

// JobLogs implements catalog.DB.
func (db *DB) JobLogs() catalog.JobLogs { return &joblogs{db} }

// Collections implements catalog.DB.
func (db *DB) Collections() catalog.Collections { return &collections{db} }

// Tags implements catalog.DB.
func (db *DB) Tags() catalog.Tags { return &tags{db} }

// Presets implements catalog.DB.
func (db *DB) Presets() catalog.Presets { return &presets{db} }

// Schedules implements catalog.DB.
func (db *DB) Schedules() catalog.Schedules { return &schedules{db} }

// CleanupRules implements catalog.DB.
func (db *DB) CleanupRules() catalog.CleanupRules { return &cleanuprules{db} }

// Artifacts implements catalog.DB.
func (db *DB) Artifacts() catalog.Artifacts { return &artifacts{db} }

// ShareLinks implements catalog.DB.
func (db *DB) ShareLinks() catalog.ShareLinks { return &sharelinks{db} }

// Notifications implements catalog.DB.
func (db *DB) Notifications() catalog.Notifications { return &notifications{db} }

// Settings implements catalog.DB.
func (db *DB) Settings() catalog.Settings { return &settings{db} }

// Ping implements catalog.DB.
func (db *DB) Ping(ctx context.Context) error { return Error.Wrap(db.db.PingContext(ctx)) }

// Close implements catalog.DB.
func (db *DB) Close() error { return Error.Wrap(db.db.Close()) }

// encodeParams serializes a params map for storage.
func encodeParams(params map[string]any) (string, error) {
	if params == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(raw), nil
}

func decodeParams(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, Error.Wrap(err)
	}
	return params, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
