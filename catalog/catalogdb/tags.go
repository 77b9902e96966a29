// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

type tags struct {
	db *DB
}

func (t *tags) Create(ctx context.Context, tag *catalog.Tag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if tag.ID.IsZero() {
		if tag.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}
	_, err = t.db.db.ExecContext(ctx, t.db.rebind(`
		INSERT INTO tags (id, name, color, created_at) VALUES (?, ?, ?, ?)`),
		tag.ID.String(), tag.Name, tag.Color, tag.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("tag %q already exists", tag.Name)
	}
	return Error.Wrap(err)
}

func (t *tags) List(ctx context.Context) (_ []catalog.Tag, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := t.db.db.QueryContext(ctx,
		`SELECT id, name, color, created_at FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Tag
	for rows.Next() {
		var (
			tag     catalog.Tag
			idText  string
			created time.Time
		)
		if err := rows.Scan(&idText, &tag.Name, &tag.Color, &created); err != nil {
			return nil, Error.Wrap(err)
		}
		if tag.ID, err = uuid.FromString(idText); err != nil {
			return nil, Error.Wrap(err)
		}
		tag.CreatedAt = created.UTC()
		result = append(result, tag)
	}
	return result, Error.Wrap(rows.Err())
}

func (t *tags) Update(ctx context.Context, id uuid.UUID, name, color string) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := t.db.db.ExecContext(ctx, t.db.rebind(
		`UPDATE tags SET name = ?, color = ? WHERE id = ?`), name, color, id.String())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("tag %q already exists", name)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "tag %s", id)
}

func (t *tags) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := t.db.db.ExecContext(ctx, t.db.rebind(
		`DELETE FROM frame_tags WHERE tag_id = ?`), id.String()); err != nil {
		return Error.Wrap(err)
	}
	res, err := t.db.db.ExecContext(ctx, t.db.rebind(
		`DELETE FROM tags WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "tag %s", id)
}

func (t *tags) TagFrame(ctx context.Context, tagID, frameID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = t.db.db.ExecContext(ctx, t.db.rebind(`
		INSERT INTO frame_tags (tag_id, frame_id) VALUES (?, ?)
		ON CONFLICT (tag_id, frame_id) DO NOTHING`),
		tagID.String(), frameID.String())
	return Error.Wrap(err)
}

func (t *tags) UntagFrame(ctx context.Context, tagID, frameID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = t.db.db.ExecContext(ctx, t.db.rebind(
		`DELETE FROM frame_tags WHERE tag_id = ? AND frame_id = ?`),
		tagID.String(), frameID.String())
	return Error.Wrap(err)
}
