// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

type sharelinks struct {
	db *DB
}

func (s *sharelinks) Create(ctx context.Context, link *catalog.ShareLink) (err error) {
	defer mon.Task()(&ctx)(&err)

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO share_links (token, frame_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
		link.Token, link.FrameID.String(), link.ExpiresAt.UTC(), link.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (s *sharelinks) Get(ctx context.Context, token string) (_ *catalog.ShareLink, err error) {
	defer mon.Task()(&ctx)(&err)

	var (
		link      catalog.ShareLink
		frameText string
		expires   time.Time
		created   time.Time
	)
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(
		`SELECT token, frame_id, expires_at, created_at FROM share_links WHERE token = ?`), token)
	err = row.Scan(&link.Token, &frameText, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("share link")
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if link.FrameID, err = uuid.FromString(frameText); err != nil {
		return nil, Error.Wrap(err)
	}
	link.ExpiresAt = expires.UTC()
	link.CreatedAt = created.UTC()
	return &link, nil
}

func (s *sharelinks) DeleteExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := s.db.db.ExecContext(ctx, s.db.rebind(
		`DELETE FROM share_links WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	return affected, Error.Wrap(err)
}
