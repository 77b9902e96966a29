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

type joblogs struct {
	db *DB
}

func (l *joblogs) Append(ctx context.Context, entry catalog.JobLog) (err error) {
	defer mon.Task()(&ctx)(&err)

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err = l.db.db.ExecContext(ctx, l.db.rebind(`
		INSERT INTO job_logs (job_id, level, message, timestamp) VALUES (?, ?, ?, ?)`),
		entry.JobID.String(), entry.Level, entry.Message, entry.Timestamp.UTC())
	return Error.Wrap(err)
}

func (l *joblogs) List(ctx context.Context, jobID uuid.UUID) (_ []catalog.JobLog, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := l.db.db.QueryContext(ctx, l.db.rebind(`
		SELECT level, message, timestamp FROM job_logs
		WHERE job_id = ? ORDER BY timestamp ASC`), jobID.String())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var logs []catalog.JobLog
	for rows.Next() {
		entry := catalog.JobLog{JobID: jobID}
		var ts time.Time
		if err := rows.Scan(&entry.Level, &entry.Message, &ts); err != nil {
			return nil, Error.Wrap(err)
		}
		entry.Timestamp = ts.UTC()
		logs = append(logs, entry)
	}
	return logs, Error.Wrap(rows.Err())
}
