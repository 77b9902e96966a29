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

type notifications struct {
	db *DB
}

func (n *notifications) Add(ctx context.Context, notif *catalog.Notification) (err error) {
	defer mon.Task()(&ctx)(&err)

	if notif.ID.IsZero() {
		if notif.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}
	_, err = n.db.db.ExecContext(ctx, n.db.rebind(`
		INSERT INTO notifications (id, type, message, read, created_at) VALUES (?, ?, ?, ?, ?)`),
		notif.ID.String(), string(notif.Type), notif.Message, notif.Read, notif.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (n *notifications) List(ctx context.Context, unreadOnly bool, limit int) (_ []catalog.Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, type, message, read, created_at FROM notifications`
	if unreadOnly {
		query += ` WHERE NOT read`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := n.db.db.QueryContext(ctx, n.db.rebind(query), limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Notification
	for rows.Next() {
		var (
			notif   catalog.Notification
			idText  string
			created time.Time
		)
		if err := rows.Scan(&idText, &notif.Type, &notif.Message, &notif.Read, &created); err != nil {
			return nil, Error.Wrap(err)
		}
		if notif.ID, err = uuid.FromString(idText); err != nil {
			return nil, Error.Wrap(err)
		}
		notif.CreatedAt = created.UTC()
		result = append(result, notif)
	}
	return result, Error.Wrap(rows.Err())
}

func (n *notifications) MarkRead(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := n.db.db.ExecContext(ctx, n.db.rebind(
		`UPDATE notifications SET read = TRUE WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "notification %s", id)
}

func (n *notifications) MarkAllRead(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = n.db.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE NOT read`)
	return Error.Wrap(err)
}
