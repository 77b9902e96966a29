// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

type schedules struct {
	db *DB
}

const scheduleColumns = `id, preset_id, interval_minutes, is_active, next_run_at, last_run_at, created_at`

func (s *schedules) Create(ctx context.Context, sched *catalog.FetchSchedule) (err error) {
	defer mon.Task()(&ctx)(&err)

	if sched.ID.IsZero() {
		if sched.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}
	if sched.IsActive && sched.NextRunAt == nil {
		next := time.Now().UTC().Add(time.Duration(sched.IntervalMinutes) * time.Minute)
		sched.NextRunAt = &next
	}
	if !sched.IsActive {
		sched.NextRunAt = nil
	}
	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO fetch_schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		sched.ID.String(), sched.PresetID.String(), sched.IntervalMinutes, sched.IsActive,
		nullTime(sched.NextRunAt), nullTime(sched.LastRunAt), sched.CreatedAt.UTC())
	return Error.Wrap(err)
}

func scanSchedule(scan func(...any) error) (*catalog.FetchSchedule, error) {
	var (
		sched      catalog.FetchSchedule
		idText     string
		presetText string
		next, last sql.NullTime
		created    time.Time
	)
	err := scan(&idText, &presetText, &sched.IntervalMinutes, &sched.IsActive, &next, &last, &created)
	if err != nil {
		return nil, err
	}
	if sched.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if sched.PresetID, err = uuid.FromString(presetText); err != nil {
		return nil, err
	}
	sched.NextRunAt = timePtr(next)
	sched.LastRunAt = timePtr(last)
	sched.CreatedAt = created.UTC()
	return &sched, nil
}

func (s *schedules) Get(ctx context.Context, id uuid.UUID) (_ *catalog.FetchSchedule, err error) {
	defer mon.Task()(&ctx)(&err)

	row := s.db.db.QueryRowContext(ctx, s.db.rebind(
		`SELECT `+scheduleColumns+` FROM fetch_schedules WHERE id = ?`), id.String())
	sched, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("schedule %s", id)
	}
	return sched, Error.Wrap(err)
}

func (s *schedules) List(ctx context.Context) (_ []catalog.FetchSchedule, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.query(ctx, `SELECT `+scheduleColumns+` FROM fetch_schedules ORDER BY created_at ASC`)
}

func (s *schedules) Due(ctx context.Context, now time.Time) (_ []catalog.FetchSchedule, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.query(ctx, s.db.rebind(`
		SELECT `+scheduleColumns+` FROM fetch_schedules
		WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`), now.UTC())
}

func (s *schedules) query(ctx context.Context, query string, args ...any) (_ []catalog.FetchSchedule, err error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.FetchSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, *sched)
	}
	return result, Error.Wrap(rows.Err())
}

func (s *schedules) Update(ctx context.Context, sched *catalog.FetchSchedule) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !sched.IsActive {
		sched.NextRunAt = nil
	}
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`
		UPDATE fetch_schedules
		SET preset_id = ?, interval_minutes = ?, is_active = ?, next_run_at = ?, last_run_at = ?
		WHERE id = ?`),
		sched.PresetID.String(), sched.IntervalMinutes, sched.IsActive,
		nullTime(sched.NextRunAt), nullTime(sched.LastRunAt), sched.ID.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "schedule %s", sched.ID)
}

func (s *schedules) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := s.db.db.ExecContext(ctx, s.db.rebind(
		`DELETE FROM fetch_schedules WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "schedule %s", id)
}

func (s *schedules) Toggle(ctx context.Context, id uuid.UUID, now time.Time) (_ *catalog.FetchSchedule, err error) {
	defer mon.Task()(&ctx)(&err)

	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sched.IsActive = !sched.IsActive
	if sched.IsActive {
		next := now.UTC().Add(time.Duration(sched.IntervalMinutes) * time.Minute)
		sched.NextRunAt = &next
	} else {
		sched.NextRunAt = nil
	}
	if err := s.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *schedules) MaterializeRun(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time, job *catalog.Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := createJob(ctx, s.db, tx, job); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.db.rebind(`
			UPDATE fetch_schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?`),
			lastRun.UTC(), nextRun.UTC(), scheduleID.String())
		if err != nil {
			return Error.Wrap(err)
		}
		return requireAffected(res, "schedule %s", scheduleID)
	})
}
