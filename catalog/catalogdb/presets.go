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

type presets struct {
	db *DB
}

func (p *presets) Create(ctx context.Context, preset *catalog.Preset) (err error) {
	defer mon.Task()(&ctx)(&err)

	if preset.ID.IsZero() {
		if preset.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if preset.CreatedAt.IsZero() {
		preset.CreatedAt = time.Now().UTC()
	}
	params, err := encodeParams(preset.Params)
	if err != nil {
		return err
	}
	_, err = p.db.db.ExecContext(ctx, p.db.rebind(`
		INSERT INTO presets (id, kind, name, params, created_at) VALUES (?, ?, ?, ?, ?)`),
		preset.ID.String(), string(preset.Kind), preset.Name, params, preset.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("%s preset %q already exists", preset.Kind, preset.Name)
	}
	return Error.Wrap(err)
}

func scanPreset(scan func(...any) error) (*catalog.Preset, error) {
	var (
		preset  catalog.Preset
		idText  string
		params  string
		created time.Time
	)
	if err := scan(&idText, &preset.Kind, &preset.Name, &params, &created); err != nil {
		return nil, err
	}
	var err error
	if preset.ID, err = uuid.FromString(idText); err != nil {
		return nil, err
	}
	if preset.Params, err = decodeParams(params); err != nil {
		return nil, err
	}
	preset.CreatedAt = created.UTC()
	return &preset, nil
}

func (p *presets) Get(ctx context.Context, id uuid.UUID) (_ *catalog.Preset, err error) {
	defer mon.Task()(&ctx)(&err)

	row := p.db.db.QueryRowContext(ctx, p.db.rebind(
		`SELECT id, kind, name, params, created_at FROM presets WHERE id = ?`), id.String())
	preset, err := scanPreset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound.New("preset %s", id)
	}
	return preset, Error.Wrap(err)
}

func (p *presets) List(ctx context.Context, kind catalog.PresetKind) (_ []catalog.Preset, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := p.db.db.QueryContext(ctx, p.db.rebind(`
		SELECT id, kind, name, params, created_at FROM presets
		WHERE kind = ? ORDER BY name ASC`), string(kind))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.Preset
	for rows.Next() {
		preset, err := scanPreset(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, *preset)
	}
	return result, Error.Wrap(rows.Err())
}

func (p *presets) Update(ctx context.Context, preset *catalog.Preset) (err error) {
	defer mon.Task()(&ctx)(&err)

	params, err := encodeParams(preset.Params)
	if err != nil {
		return err
	}
	res, err := p.db.db.ExecContext(ctx, p.db.rebind(
		`UPDATE presets SET name = ?, params = ? WHERE id = ?`),
		preset.Name, params, preset.ID.String())
	if isUniqueViolation(err) {
		return catalog.ErrConflict.New("%s preset %q already exists", preset.Kind, preset.Name)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "preset %s", preset.ID)
}

func (p *presets) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := p.db.db.ExecContext(ctx, p.db.rebind(
		`DELETE FROM presets WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "preset %s", id)
}
