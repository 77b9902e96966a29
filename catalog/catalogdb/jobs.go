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

type jobs struct {
	db *DB
}

const jobColumns = `id, type, status, params, progress, status_message, error,
	task_id, input_path, output_path, created_at, started_at, completed_at, updated_at`

func (j *jobs) Create(ctx context.Context, job *catalog.Job) (err error) {
	defer mon.Task()(&ctx)(&err)
	return createJob(ctx, j.db, j.db.db, job)
}

func createJob(ctx context.Context, db *DB, q queryer, job *catalog.Job) error {
	if job.ID.IsZero() {
		id, err := uuid.New()
		if err != nil {
			return Error.Wrap(err)
		}
		job.ID = id
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = catalog.JobPending
	}
	params, err := encodeParams(job.Params)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, db.rebind(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID.String(), string(job.Type), string(job.Status), params,
		job.Progress, job.StatusMessage, job.Error, job.TaskID,
		job.InputPath, job.OutputPath,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.UpdatedAt)
	return Error.Wrap(err)
}

func scanJob(scan func(...any) error) (*catalog.Job, error) {
	var (
		job       catalog.Job
		idText    string
		params    string
		started   sql.NullTime
		completed sql.NullTime
		created   time.Time
		updated   time.Time
	)
	err := scan(&idText, &job.Type, &job.Status, &params, &job.Progress,
		&job.StatusMessage, &job.Error, &job.TaskID, &job.InputPath, &job.OutputPath,
		&created, &started, &completed, &updated)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if job.Params, err = decodeParams(params); err != nil {
		return nil, err
	}
	job.CreatedAt = created.UTC()
	job.UpdatedAt = updated.UTC()
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

func (j *jobs) Get(ctx context.Context, id uuid.UUID) (_ *catalog.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	row := j.db.db.QueryRowContext(ctx, j.db.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id.String())
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("job %s", id)
	}
	return job, Error.Wrap(err)
}

func (j *jobs) List(ctx context.Context, opts catalog.ListJobsOptions) (_ []catalog.Job, total int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var conds []string
	var args []any
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(opts.Type))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	err = j.db.db.QueryRowContext(ctx,
		j.db.rebind(`SELECT COUNT(*) FROM jobs`+where), args...).Scan(&total)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	rows, err := j.db.db.QueryContext(ctx, j.db.rebind(
		`SELECT `+jobColumns+` FROM jobs`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, Error.Wrap(err)
		}
		result = append(result, *job)
	}
	return result, total, Error.Wrap(rows.Err())
}

func (j *jobs) Start(ctx context.Context, id uuid.UUID, taskID string, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	now = now.UTC()
	res, err := j.db.db.ExecContext(ctx, j.db.rebind(`
		UPDATE jobs SET status = ?, task_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(catalog.JobProcessing), taskID, now, now,
		id.String(), string(catalog.JobPending))
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return catalog.ErrConflict.New("job %s is not pending", id)
	}
	return nil
}

func (j *jobs) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = j.db.db.ExecContext(ctx, j.db.rebind(`
		UPDATE jobs SET progress = ?, status_message = ?, updated_at = ? WHERE id = ?`),
		progress, message, time.Now().UTC(), id.String())
	return Error.Wrap(err)
}

func (j *jobs) Finish(ctx context.Context, id uuid.UUID, status catalog.JobStatus, message, errText string, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !status.Terminal() {
		return Error.New("status %q is not terminal", status)
	}
	now = now.UTC()
	query := `UPDATE jobs SET status = ?, status_message = ?, error = ?,
		completed_at = ?, updated_at = ?`
	args := []any{string(status), message, errText, now, now}
	if status == catalog.JobCompleted || status == catalog.JobCompletedPartial {
		query += `, progress = 100`
	}
	query += ` WHERE id = ?`
	args = append(args, id.String())

	_, err = j.db.db.ExecContext(ctx, j.db.rebind(query), args...)
	return Error.Wrap(err)
}

func (j *jobs) SetOutputPath(ctx context.Context, id uuid.UUID, outputPath string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = j.db.db.ExecContext(ctx, j.db.rebind(
		`UPDATE jobs SET output_path = ?, updated_at = ? WHERE id = ?`),
		outputPath, time.Now().UTC(), id.String())
	return Error.Wrap(err)
}

func (j *jobs) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := j.db.db.ExecContext(ctx, j.db.rebind(
		`DELETE FROM jobs WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return catalog.ErrNotFound.New("job %s", id)
	}
	return nil
}

func (j *jobs) ReapStale(ctx context.Context, processingBefore, pendingBefore time.Time, message string) (reaped int64, err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	res, err := j.db.db.ExecContext(ctx, j.db.rebind(`
		UPDATE jobs SET status = ?, status_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND COALESCE(updated_at, started_at) < ?`),
		string(catalog.JobFailed), message, now, now,
		string(catalog.JobProcessing), processingBefore.UTC())
	if err != nil {
		return 0, Error.Wrap(err)
	}
	reaped, err = res.RowsAffected()
	if err != nil {
		return 0, Error.Wrap(err)
	}

	res, err = j.db.db.ExecContext(ctx, j.db.rebind(`
		UPDATE jobs SET status = ?, status_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND task_id = '' AND created_at < ?`),
		string(catalog.JobFailed), message, now, now,
		string(catalog.JobPending), pendingBefore.UTC())
	if err != nil {
		return reaped, Error.Wrap(err)
	}
	pendingReaped, err := res.RowsAffected()
	if err != nil {
		return reaped, Error.Wrap(err)
	}
	return reaped + pendingReaped, nil
}
