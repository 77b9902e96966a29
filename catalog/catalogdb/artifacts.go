// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
)

type artifacts struct {
	db *DB
}

func encodeFrameIDs(ids []uuid.UUID) (string, error) {
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		texts = append(texts, id.String())
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(data), nil
}

func decodeFrameIDs(text string) ([]uuid.UUID, error) {
	if text == "" {
		return nil, nil
	}
	var texts []string
	if err := json.Unmarshal([]byte(text), &texts); err != nil {
		return nil, Error.Wrap(err)
	}
	ids := make([]uuid.UUID, 0, len(texts))
	for _, t := range texts {
		id, err := uuid.FromString(t)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *artifacts) CreateAnimation(ctx context.Context, anim *catalog.Animation) (err error) {
	defer mon.Task()(&ctx)(&err)

	if anim.ID.IsZero() {
		if anim.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if anim.CreatedAt.IsZero() {
		anim.CreatedAt = time.Now().UTC()
	}
	frameIDs, err := encodeFrameIDs(anim.FrameIDs)
	if err != nil {
		return err
	}
	_, err = a.db.db.ExecContext(ctx, a.db.rebind(`
		INSERT INTO animations (id, job_id, status, format, fps, loop_style, frame_ids, file_path, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		anim.ID.String(), anim.JobID.String(), string(anim.Status), anim.Format,
		anim.FPS, anim.LoopStyle, frameIDs, anim.FilePath, anim.FileSize, anim.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (a *artifacts) UpdateAnimation(ctx context.Context, id uuid.UUID, status catalog.JobStatus, filePath string, fileSize int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := a.db.db.ExecContext(ctx, a.db.rebind(`
		UPDATE animations SET status = ?, file_path = ?, file_size = ? WHERE id = ?`),
		string(status), filePath, fileSize, id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "animation %s", id)
}

func scanAnimation(scan func(...any) error) (*catalog.Animation, error) {
	var (
		anim     catalog.Animation
		idText   string
		jobText  string
		frameIDs string
		created  time.Time
	)
	err := scan(&idText, &jobText, &anim.Status, &anim.Format, &anim.FPS,
		&anim.LoopStyle, &frameIDs, &anim.FilePath, &anim.FileSize, &created)
	if err != nil {
		return nil, err
	}
	if anim.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if anim.JobID, err = uuid.FromString(jobText); err != nil {
		return nil, err
	}
	if anim.FrameIDs, err = decodeFrameIDs(frameIDs); err != nil {
		return nil, err
	}
	anim.CreatedAt = created.UTC()
	return &anim, nil
}

const animationColumns = `id, job_id, status, format, fps, loop_style, frame_ids, file_path, file_size, created_at`

func (a *artifacts) GetAnimation(ctx context.Context, id uuid.UUID) (_ *catalog.Animation, err error) {
	defer mon.Task()(&ctx)(&err)

	row := a.db.db.QueryRowContext(ctx, a.db.rebind(
		`SELECT `+animationColumns+` FROM animations WHERE id = ?`), id.String())
	anim, err := scanAnimation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("animation %s", id)
	}
	return anim, Error.Wrap(err)
}

func (a *artifacts) ListAnimations(ctx context.Context) (_ []catalog.Animation, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := a.db.db.QueryContext(ctx,
		`SELECT `+animationColumns+` FROM animations ORDER BY created_at DESC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Animation
	for rows.Next() {
		anim, err := scanAnimation(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, *anim)
	}
	return result, Error.Wrap(rows.Err())
}

func (a *artifacts) CreateComposite(ctx context.Context, comp *catalog.Composite) (err error) {
	defer mon.Task()(&ctx)(&err)

	if comp.ID.IsZero() {
		if comp.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if comp.CreatedAt.IsZero() {
		comp.CreatedAt = time.Now().UTC()
	}
	_, err = a.db.db.ExecContext(ctx, a.db.rebind(`
		INSERT INTO composites (id, job_id, status, recipe, satellite, sector, capture_time, file_path, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		comp.ID.String(), comp.JobID.String(), string(comp.Status), comp.Recipe,
		string(comp.Satellite), string(comp.Sector), comp.CaptureTime.UTC(),
		comp.FilePath, comp.FileSize, comp.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (a *artifacts) UpdateComposite(ctx context.Context, id uuid.UUID, status catalog.JobStatus, filePath string, fileSize int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := a.db.db.ExecContext(ctx, a.db.rebind(`
		UPDATE composites SET status = ?, file_path = ?, file_size = ? WHERE id = ?`),
		string(status), filePath, fileSize, id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "composite %s", id)
}

func scanComposite(scan func(...any) error) (*catalog.Composite, error) {
	var (
		comp     catalog.Composite
		idText   string
		jobText  string
		sat, sec string
		capture  time.Time
		created  time.Time
	)
	err := scan(&idText, &jobText, &comp.Status, &comp.Recipe, &sat, &sec,
		&capture, &comp.FilePath, &comp.FileSize, &created)
	if err != nil {
		return nil, err
	}
	if comp.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if comp.JobID, err = uuid.FromString(jobText); err != nil {
		return nil, err
	}
	comp.Satellite = goes.Satellite(sat)
	comp.Sector = goes.Sector(sec)
	comp.CaptureTime = capture.UTC()
	comp.CreatedAt = created.UTC()
	return &comp, nil
}

const compositeColumns = `id, job_id, status, recipe, satellite, sector, capture_time, file_path, file_size, created_at`

func (a *artifacts) GetComposite(ctx context.Context, id uuid.UUID) (_ *catalog.Composite, err error) {
	defer mon.Task()(&ctx)(&err)

	row := a.db.db.QueryRowContext(ctx, a.db.rebind(
		`SELECT `+compositeColumns+` FROM composites WHERE id = ?`), id.String())
	comp, err := scanComposite(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("composite %s", id)
	}
	return comp, Error.Wrap(err)
}

func (a *artifacts) ListComposites(ctx context.Context) (_ []catalog.Composite, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := a.db.db.QueryContext(ctx,
		`SELECT `+compositeColumns+` FROM composites ORDER BY created_at DESC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Composite
	for rows.Next() {
		comp, err := scanComposite(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, *comp)
	}
	return result, Error.Wrap(rows.Err())
}
