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
	"github.com/goeswatch/goeswatch/goes"
)

type frames struct {
	db *DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const frameColumns = `id, satellite, sector, band, capture_time, file_path,
	file_size, width, height, thumbnail_path, source_job_id, created_at`

func (f *frames) Insert(ctx context.Context, frame *catalog.Frame) (err error) {
	defer mon.Task()(&ctx)(&err)
	return f.upsert(ctx, f.db.db, frame)
}

// upsert writes the frame and its legacy image row. Key-tuple collisions
// keep the existing surrogate id, which is written back into frame.ID.
func (f *frames) upsert(ctx context.Context, q queryer, frame *catalog.Frame) error {
	if frame.ID.IsZero() {
		id, err := uuid.New()
		if err != nil {
			return Error.Wrap(err)
		}
		frame.ID = id
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now().UTC()
	}

	var sourceJob any
	if frame.SourceJobID != nil {
		sourceJob = frame.SourceJobID.String()
	}

	var idText string
	err := q.QueryRowContext(ctx, f.db.rebind(`
		INSERT INTO goes_frames (`+frameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (satellite, sector, band, capture_time) DO UPDATE SET
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			width = excluded.width,
			height = excluded.height,
			thumbnail_path = excluded.thumbnail_path,
			source_job_id = excluded.source_job_id
		RETURNING id`),
		frame.ID.String(), string(frame.Satellite), string(frame.Sector), string(frame.Band),
		frame.CaptureTime.UTC(), frame.FilePath, frame.FileSize, frame.Width, frame.Height,
		frame.ThumbnailPath, sourceJob, frame.CreatedAt.UTC(),
	).Scan(&idText)
	if err != nil {
		return Error.Wrap(err)
	}
	if frame.ID, err = uuid.FromString(idText); err != nil {
		return Error.Wrap(err)
	}

	_, err = q.ExecContext(ctx, f.db.rebind(`
		INSERT INTO images (id, file_path, file_size, width, height, source, created_at)
		VALUES (?, ?, ?, ?, ?, 'goes', ?)
		ON CONFLICT (id) DO UPDATE SET
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			width = excluded.width,
			height = excluded.height`),
		frame.ID.String(), frame.FilePath, frame.FileSize, frame.Width, frame.Height,
		frame.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (f *frames) CommitBatch(ctx context.Context, batch []*catalog.Frame, collectionName string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return f.db.withTx(ctx, func(tx *sql.Tx) error {
		collectionID, err := ensureCollection(ctx, f.db, tx, collectionName)
		if err != nil {
			return err
		}
		for _, frame := range batch {
			if err := f.upsert(ctx, tx, frame); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, f.db.rebind(`
				INSERT INTO collection_frames (collection_id, frame_id)
				VALUES (?, ?)
				ON CONFLICT (collection_id, frame_id) DO NOTHING`),
				collectionID.String(), frame.ID.String())
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

func ensureCollection(ctx context.Context, db *DB, q queryer, name string) (uuid.UUID, error) {
	var idText string
	err := q.QueryRowContext(ctx, db.rebind(
		`SELECT id FROM collections WHERE name = ?`), name).Scan(&idText)
	switch {
	case err == nil:
		return uuid.FromString(idText)
	case errors.Is(err, sql.ErrNoRows):
		id, err := uuid.New()
		if err != nil {
			return uuid.UUID{}, Error.Wrap(err)
		}
		_, err = q.ExecContext(ctx, db.rebind(`
			INSERT INTO collections (id, name, created_at) VALUES (?, ?, ?)`),
			id.String(), name, time.Now().UTC())
		return id, Error.Wrap(err)
	default:
		return uuid.UUID{}, Error.Wrap(err)
	}
}

func scanFrame(scan func(...any) error) (*catalog.Frame, error) {
	var (
		frame     catalog.Frame
		idText    string
		sourceJob sql.NullString
		capture   time.Time
		created   time.Time
	)
	err := scan(&idText, &frame.Satellite, &frame.Sector, &frame.Band, &capture,
		&frame.FilePath, &frame.FileSize, &frame.Width, &frame.Height,
		&frame.ThumbnailPath, &sourceJob, &created)
	if err != nil {
		return nil, err
	}
	if frame.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if sourceJob.Valid {
		jobID, err := uuid.FromString(sourceJob.String)
		if err != nil {
			return nil, err
		}
		frame.SourceJobID = &jobID
	}
	frame.CaptureTime = capture.UTC()
	frame.CreatedAt = created.UTC()
	return &frame, nil
}

func (f *frames) Get(ctx context.Context, id uuid.UUID) (_ *catalog.Frame, err error) {
	defer mon.Task()(&ctx)(&err)

	row := f.db.db.QueryRowContext(ctx, f.db.rebind(
		`SELECT `+frameColumns+` FROM goes_frames WHERE id = ?`), id.String())
	frame, err := scanFrame(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("frame %s", id)
	}
	return frame, Error.Wrap(err)
}

func frameFilterWhere(opts catalog.ListFramesOptions) (string, []any) {
	var conds []string
	var args []any
	if opts.Satellite != "" {
		conds = append(conds, "satellite = ?")
		args = append(args, string(opts.Satellite))
	}
	if opts.Sector != "" {
		conds = append(conds, "sector = ?")
		args = append(args, string(opts.Sector))
	}
	if opts.Band != "" {
		conds = append(conds, "band = ?")
		args = append(args, string(opts.Band))
	}
	if opts.Start != nil {
		conds = append(conds, "capture_time >= ?")
		args = append(args, opts.Start.UTC())
	}
	if opts.End != nil {
		conds = append(conds, "capture_time <= ?")
		args = append(args, opts.End.UTC())
	}
	if opts.CollectionID != nil {
		conds = append(conds, `EXISTS (SELECT 1 FROM collection_frames cf
			WHERE cf.frame_id = goes_frames.id AND cf.collection_id = ?)`)
		args = append(args, opts.CollectionID.String())
	}
	if opts.Tag != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM frame_tags ft
			JOIN tags t ON t.id = ft.tag_id
			WHERE ft.frame_id = goes_frames.id AND t.name = ?)`)
		args = append(args, opts.Tag)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f *frames) List(ctx context.Context, opts catalog.ListFramesOptions) (_ []catalog.Frame, total int64, err error) {
	defer mon.Task()(&ctx)(&err)

	sortKey := opts.SortKey
	if sortKey == "" {
		sortKey = catalog.SortCaptureTime
	}
	if !sortKey.Valid() {
		return nil, 0, Error.New("sort key %q not allowed", sortKey)
	}
	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}

	where, args := frameFilterWhere(opts)

	err = f.db.db.QueryRowContext(ctx,
		f.db.rebind(`SELECT COUNT(*) FROM goes_frames`+where), args...).Scan(&total)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}

	query := `SELECT ` + frameColumns + ` FROM goes_frames` + where +
		` ORDER BY ` + string(sortKey) + ` ` + direction + `, id ` + direction +
		` LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := f.db.db.QueryContext(ctx, f.db.rebind(query), args...)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var result []catalog.Frame
	for rows.Next() {
		frame, err := scanFrame(rows.Scan)
		if err != nil {
			return nil, 0, Error.Wrap(err)
		}
		result = append(result, *frame)
	}
	return result, total, Error.Wrap(rows.Err())
}

func (f *frames) Latest(ctx context.Context, sat goes.Satellite, sector goes.Sector, band goes.Band) (_ *catalog.Frame, err error) {
	defer mon.Task()(&ctx)(&err)

	row := f.db.db.QueryRowContext(ctx, f.db.rebind(`
		SELECT `+frameColumns+` FROM goes_frames
		WHERE satellite = ? AND sector = ? AND band = ?
		ORDER BY capture_time DESC LIMIT 1`),
		string(sat), string(sector), string(band))
	frame, err := scanFrame(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("no frames for %s %s %s", sat, sector, band)
	}
	return frame, Error.Wrap(err)
}

func (f *frames) Nearest(ctx context.Context, sat goes.Satellite, sector goes.Sector, band goes.Band, t time.Time) (_ *catalog.Frame, err error) {
	defer mon.Task()(&ctx)(&err)

	// Time arithmetic differs per dialect; take the closest neighbor on each
	// side and compare in Go.
	scanOne := func(cmp, order string) (*catalog.Frame, error) {
		row := f.db.db.QueryRowContext(ctx, f.db.rebind(`
			SELECT `+frameColumns+` FROM goes_frames
			WHERE satellite = ? AND sector = ? AND band = ? AND capture_time `+cmp+` ?
			ORDER BY capture_time `+order+` LIMIT 1`),
			string(sat), string(sector), string(band), t.UTC())
		frame, err := scanFrame(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return frame, Error.Wrap(err)
	}

	before, err := scanOne("<=", "DESC")
	if err != nil {
		return nil, err
	}
	after, err := scanOne(">", "ASC")
	if err != nil {
		return nil, err
	}
	switch {
	case before == nil && after == nil:
		return nil, catalog.ErrNotFound.New("no frames for %s %s %s", sat, sector, band)
	case before == nil:
		return after, nil
	case after == nil:
		return before, nil
	case t.Sub(before.CaptureTime) <= after.CaptureTime.Sub(t):
		return before, nil
	default:
		return after, nil
	}
}

func (f *frames) Delete(ctx context.Context, ids []uuid.UUID) (_ []catalog.FrameRef, err error) {
	defer mon.Task()(&ctx)(&err)

	var refs []catalog.FrameRef
	err = f.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			ref, err := deleteFrameRow(ctx, f.db, tx, "id", id.String())
			if err != nil {
				return err
			}
			refs = append(refs, ref...)
		}
		return nil
	})
	return refs, err
}

func (f *frames) DeleteBySourceJob(ctx context.Context, jobID uuid.UUID) (_ []catalog.FrameRef, err error) {
	defer mon.Task()(&ctx)(&err)

	var refs []catalog.FrameRef
	err = f.db.withTx(ctx, func(tx *sql.Tx) error {
		refs, err = deleteFrameRow(ctx, f.db, tx, "source_job_id", jobID.String())
		return err
	})
	return refs, err
}

func deleteFrameRow(ctx context.Context, db *DB, tx *sql.Tx, column, value string) ([]catalog.FrameRef, error) {
	rows, err := tx.QueryContext(ctx, db.rebind(`
		SELECT id, file_path, thumbnail_path, file_size, created_at
		FROM goes_frames WHERE `+column+` = ?`), value)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	refs, err := collectRefs(rows)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, db.rebind(
			`DELETE FROM goes_frames WHERE id = ?`), ref.ID.String()); err != nil {
			return nil, Error.Wrap(err)
		}
		if _, err := tx.ExecContext(ctx, db.rebind(
			`DELETE FROM images WHERE id = ?`), ref.ID.String()); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return refs, nil
}

func collectRefs(rows *sql.Rows) (_ []catalog.FrameRef, err error) {
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var refs []catalog.FrameRef
	for rows.Next() {
		var (
			ref     catalog.FrameRef
			idText  string
			created time.Time
		)
		if err := rows.Scan(&idText, &ref.FilePath, &ref.ThumbnailPath, &ref.FileSize, &created); err != nil {
			return nil, Error.Wrap(err)
		}
		if ref.ID, err = uuid.FromString(idText); err != nil {
			return nil, Error.Wrap(err)
		}
		ref.CreatedAt = created.UTC()
		refs = append(refs, ref)
	}
	return refs, Error.Wrap(rows.Err())
}

func (f *frames) Stats(ctx context.Context) (_ catalog.FrameStats, err error) {
	defer mon.Task()(&ctx)(&err)

	var stats catalog.FrameStats
	err = f.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM goes_frames`).
		Scan(&stats.TotalFrames, &stats.TotalBytes)
	if err != nil {
		return catalog.FrameStats{}, Error.Wrap(err)
	}

	rows, err := f.db.db.QueryContext(ctx, `
		SELECT satellite, band, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM goes_frames GROUP BY satellite, band
		ORDER BY satellite, band`)
	if err != nil {
		return catalog.FrameStats{}, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	for rows.Next() {
		var row catalog.SatBandSize
		if err := rows.Scan(&row.Satellite, &row.Band, &row.Frames, &row.Bytes); err != nil {
			return catalog.FrameStats{}, Error.Wrap(err)
		}
		stats.BySatellite = append(stats.BySatellite, row)
	}
	return stats, Error.Wrap(rows.Err())
}

func (f *frames) TotalSize(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var total int64
	err = f.db.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM goes_frames`).Scan(&total)
	return total, Error.Wrap(err)
}

func (f *frames) CaptureTimes(ctx context.Context, filter catalog.GapFilter) (_ []time.Time, err error) {
	defer mon.Task()(&ctx)(&err)

	where, args := frameFilterWhere(catalog.ListFramesOptions{
		Satellite: filter.Satellite,
		Sector:    filter.Sector,
		Band:      filter.Band,
	})
	rows, err := f.db.db.QueryContext(ctx, f.db.rebind(
		`SELECT capture_time FROM goes_frames`+where+` ORDER BY capture_time ASC`), args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, Error.Wrap(err)
		}
		times = append(times, t.UTC())
	}
	return times, Error.Wrap(rows.Err())
}

func (f *frames) Stream(ctx context.Context, opts catalog.StreamFramesOptions, fn func(catalog.FrameRef) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	var conds []string
	var args []any
	if opts.CreatedBefore != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, opts.CreatedBefore.UTC())
	}
	if opts.ExcludeProtected {
		conds = append(conds, `NOT EXISTS (SELECT 1 FROM collection_frames cf
			WHERE cf.frame_id = goes_frames.id)`)
	}
	query := `SELECT id, file_path, thumbnail_path, file_size, created_at FROM goes_frames`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := f.db.db.QueryContext(ctx, f.db.rebind(query), args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	for rows.Next() {
		var (
			ref     catalog.FrameRef
			idText  string
			created time.Time
		)
		if err := rows.Scan(&idText, &ref.FilePath, &ref.ThumbnailPath, &ref.FileSize, &created); err != nil {
			return Error.Wrap(err)
		}
		if ref.ID, err = uuid.FromString(idText); err != nil {
			return Error.Wrap(err)
		}
		ref.CreatedAt = created.UTC()
		if err := fn(ref); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}
