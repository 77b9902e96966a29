// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

type collections struct {
	db *DB
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// pgx surfaces SQLSTATE 23505, mattn/go-sqlite3 a UNIQUE constraint
	// message; matching text avoids importing both driver error types here.
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key")
}

func (c *collections) Create(ctx context.Context, col *catalog.Collection) (err error) {
	defer mon.Task()(&ctx)(&err)

	if col.ID.IsZero() {
		if col.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if col.CreatedAt.IsZero() {
		col.CreatedAt = time.Now().UTC()
	}
	_, err = c.db.db.ExecContext(ctx, c.db.rebind(`
		INSERT INTO collections (id, name, created_at) VALUES (?, ?, ?)`),
		col.ID.String(), col.Name, col.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("collection %q already exists", col.Name)
	}
	return Error.Wrap(err)
}

func scanCollection(scan func(...any) error) (*catalog.Collection, error) {
	var (
		col     catalog.Collection
		idText  string
		created time.Time
	)
	if err := scan(&idText, &col.Name, &created, &col.FrameCount); err != nil {
		return nil, err
	}
	var err error
	if col.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	col.CreatedAt = created.UTC()
	return &col, nil
}

const collectionSelect = `
	SELECT c.id, c.name, c.created_at,
		(SELECT COUNT(*) FROM collection_frames cf WHERE cf.collection_id = c.id)
	FROM collections c`

func (c *collections) Get(ctx context.Context, id uuid.UUID) (_ *catalog.Collection, err error) {
	defer mon.Task()(&ctx)(&err)

	row := c.db.db.QueryRowContext(ctx, c.db.rebind(collectionSelect+` WHERE c.id = ?`), id.String())
	col, err := scanCollection(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("collection %s", id)
	}
	return col, Error.Wrap(err)
}

func (c *collections) GetByName(ctx context.Context, name string) (_ *catalog.Collection, err error) {
	defer mon.Task()(&ctx)(&err)

	row := c.db.db.QueryRowContext(ctx, c.db.rebind(collectionSelect+` WHERE c.name = ?`), name)
	col, err := scanCollection(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("collection %q", name)
	}
	return col, Error.Wrap(err)
}

func (c *collections) List(ctx context.Context) (_ []catalog.Collection, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := c.db.db.QueryContext(ctx, collectionSelect+` ORDER BY c.name ASC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Collection
	for rows.Next() {
		col, err := scanCollection(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, *col)
	}
	return result, Error.Wrap(rows.Err())
}

func (c *collections) Rename(ctx context.Context, id uuid.UUID, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := c.db.db.ExecContext(ctx, c.db.rebind(
		`UPDATE collections SET name = ? WHERE id = ?`), name, id.String())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("collection %q already exists", name)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "collection %s", id)
}

func (c *collections) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)
	return c.db.withTx(ctx, func(tx *sql.Tx) error {
		// Join rows first; sqlite enforces FKs only when the pragma is on.
		if _, err := tx.ExecContext(ctx, c.db.rebind(
			`DELETE FROM collection_frames WHERE collection_id = ?`), id.String()); err != nil {
			return Error.Wrap(err)
		}
		res, err := tx.ExecContext(ctx, c.db.rebind(
			`DELETE FROM collections WHERE id = ?`), id.String())
		if err != nil {
			return Error.Wrap(err)
		}
		return requireAffected(res, "collection %s", id)
	})
}

func (c *collections) AddFrame(ctx context.Context, collectionID, frameID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = c.db.db.ExecContext(ctx, c.db.rebind(`
		INSERT INTO collection_frames (collection_id, frame_id) VALUES (?, ?)
		ON CONFLICT (collection_id, frame_id) DO NOTHING`),
		collectionID.String(), frameID.String())
	return Error.Wrap(err)
}

func (c *collections) RemoveFrame(ctx context.Context, collectionID, frameID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = c.db.db.ExecContext(ctx, c.db.rebind(
		`DELETE FROM collection_frames WHERE collection_id = ? AND frame_id = ?`),
		collectionID.String(), frameID.String())
	return Error.Wrap(err)
}

func (c *collections) FrameIDs(ctx context.Context, collectionID uuid.UUID) (_ []uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := c.db.db.QueryContext(ctx, c.db.rebind(
		`SELECT frame_id FROM collection_frames WHERE collection_id = ?`), collectionID.String())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var ids []uuid.UUID
	for rows.Next() {
		var idText string
		if err := rows.Scan(&idText); err != nil {
			return nil, Error.Wrap(err)
		}
		id, err := uuid.FromString(idText)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, Error.Wrap(rows.Err())
}

func requireAffected(res sql.Result, format string, args ...any) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return catalog.ErrNotFound.New(format, args...)
	}
	return nil
}
