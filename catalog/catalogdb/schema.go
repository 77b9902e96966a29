// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"

	"go.uber.org/zap"
)

// schemaDDL is the warning-only startup fallback. Real deployments apply
// migrations out-of-band; these statements only create what is missing.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		progress INTEGER NOT NULL DEFAULT 0,
		status_message TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		input_path TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_updated ON jobs (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS job_logs (
		job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS job_logs_job ON job_logs (job_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS goes_frames (
		id TEXT PRIMARY KEY,
		satellite TEXT NOT NULL,
		sector TEXT NOT NULL,
		band TEXT NOT NULL,
		capture_time TIMESTAMP NOT NULL,
		file_path TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		source_job_id TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (satellite, sector, band, capture_time)
	)`,
	`CREATE INDEX IF NOT EXISTS goes_frames_capture ON goes_frames (satellite, sector, band, capture_time)`,
	`CREATE INDEX IF NOT EXISTS goes_frames_created ON goes_frames (created_at)`,
	// Legacy image rows kept in step with goes_frames for older readers.
	`CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'goes',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collection_frames (
		collection_id TEXT NOT NULL REFERENCES collections (id) ON DELETE CASCADE,
		frame_id TEXT NOT NULL REFERENCES goes_frames (id) ON DELETE CASCADE,
		PRIMARY KEY (collection_id, frame_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS frame_tags (
		tag_id TEXT NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
		frame_id TEXT NOT NULL REFERENCES goes_frames (id) ON DELETE CASCADE,
		PRIMARY KEY (tag_id, frame_id)
	)`,
	`CREATE TABLE IF NOT EXISTS presets (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (kind, name)
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_schedules (
		id TEXT PRIMARY KEY,
		preset_id TEXT NOT NULL REFERENCES presets (id) ON DELETE CASCADE,
		interval_minutes INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		next_run_at TIMESTAMP,
		last_run_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cleanup_rules (
		id TEXT PRIMARY KEY,
		rule_type TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		protect_collections BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS animations (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		format TEXT NOT NULL,
		fps INTEGER NOT NULL DEFAULT 0,
		loop_style TEXT NOT NULL DEFAULT 'forward',
		frame_ids TEXT NOT NULL DEFAULT '[]',
		file_path TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS composites (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		recipe TEXT NOT NULL,
		satellite TEXT NOT NULL,
		sector TEXT NOT NULL,
		capture_time TIMESTAMP NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS share_links (
		token TEXT PRIMARY KEY,
		frame_id TEXT NOT NULL REFERENCES goes_frames (id) ON DELETE CASCADE,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// EnsureSchema implements catalog.DB.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := db.db.ExecContext(ctx, ddl); err != nil {
			// Schema drift is surfaced but not fatal; migrations own the
			// schema.
			db.log.Warn("schema ensure statement failed",
				zap.String("statement", firstLine(ddl)),
				zap.Error(err))
		}
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
