// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/goeswatch/goeswatch/catalog"
)

type settings struct {
	db *DB
}

func (s *settings) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	row := s.db.db.QueryRowContext(ctx, s.db.rebind(
		`SELECT value FROM settings WHERE key = ?`), key)
	err = row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Error.Wrap(err)
	}
	return value, true, nil
}

func (s *settings) Set(ctx context.Context, key, value string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`), key, value)
	return Error.Wrap(err)
}

// MaxFramesPerFetch reads the frame cap. Absent or unparsable values fall
// back to the default; stored values are clamped on read so a bad write
// cannot disable the cap.
func (s *settings) MaxFramesPerFetch(ctx context.Context) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	value, ok, err := s.Get(ctx, catalog.SettingMaxFramesPerFetch)
	if err != nil {
		return 0, err
	}
	if !ok {
		return catalog.DefaultMaxFramesPerFetch, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return catalog.DefaultMaxFramesPerFetch, nil
	}
	return catalog.ClampMaxFrames(n), nil
}
