// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package catalog defines the durable records of the frame catalog and the
// database interfaces the rest of the system is written against.
package catalog

import (
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/goes"
)

var (
	// Error is the catalog error class.
	Error = errs.Class("catalog")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errs.Class("not found")
	// ErrConflict is returned on uniqueness violations.
	ErrConflict = errs.Class("conflict")
)

// JobType enumerates the kinds of asynchronous work.
type JobType string

// Job types.
const (
	JobGoesFetch         JobType = "goes_fetch"
	JobGoesBackfill      JobType = "goes_backfill"
	JobCompositeFetch    JobType = "composite_fetch"
	JobCompositeGenerate JobType = "composite_generate"
	JobAnimation         JobType = "animation"
	JobImageProcess      JobType = "image_process"
	JobCleanup           JobType = "cleanup"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

// Job statuses.
const (
	JobPending          JobStatus = "pending"
	JobProcessing       JobStatus = "processing"
	JobCompleted        JobStatus = "completed"
	JobCompletedPartial JobStatus = "completed_partial"
	JobFailed           JobStatus = "failed"
	JobCancelled        JobStatus = "cancelled"
)

// Terminal reports whether the status is a final one.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedPartial, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is the unit of asynchronous work.
type Job struct {
	ID            uuid.UUID      `json:"id"`
	Type          JobType        `json:"type"`
	Status        JobStatus      `json:"status"`
	Params        map[string]any `json:"params"`
	Progress      int            `json:"progress"`
	StatusMessage string         `json:"status_message"`
	Error         string         `json:"error,omitempty"`
	TaskID        string         `json:"-"`
	InputPath     string         `json:"input_path,omitempty"`
	OutputPath    string         `json:"output_path,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// JobLog is an append-only per-job log line.
type JobLog struct {
	JobID     uuid.UUID `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame is a catalogued satellite image on disk. The logical identity is
// (satellite, sector, band, capture_time); ID is a surrogate for references.
type Frame struct {
	ID            uuid.UUID      `json:"id"`
	Satellite     goes.Satellite `json:"satellite"`
	Sector        goes.Sector    `json:"sector"`
	Band          goes.Band      `json:"band"`
	CaptureTime   time.Time      `json:"capture_time"`
	FilePath      string         `json:"file_path"`
	FileSize      int64          `json:"file_size"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	ThumbnailPath string         `json:"thumbnail_path,omitempty"`
	SourceJobID   *uuid.UUID     `json:"source_job_id"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Collection is a named mutable group of frames, also the retention
// protection marker.
type Collection struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	FrameCount int       `json:"frame_count"`
}

// Tag is a named label applied to frames.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// PresetKind distinguishes the reusable parameter-block kinds. Names are
// unique within a kind.
type PresetKind string

// Preset kinds.
const (
	PresetCrop      PresetKind = "crop"
	PresetFetch     PresetKind = "fetch"
	PresetAnimation PresetKind = "animation"
)

// Preset is a named reusable parameter block.
type Preset struct {
	ID        uuid.UUID      `json:"id"`
	Kind      PresetKind     `json:"kind"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
}

// FetchSchedule periodically materializes a fetch preset into a job.
// When active, NextRunAt must be set; when inactive it must be nil.
type FetchSchedule struct {
	ID              uuid.UUID  `json:"id"`
	PresetID        uuid.UUID  `json:"preset_id"`
	IntervalMinutes int        `json:"interval_minutes"`
	IsActive        bool       `json:"is_active"`
	NextRunAt       *time.Time `json:"next_run_at"`
	LastRunAt       *time.Time `json:"last_run_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CleanupRuleType enumerates retention rule kinds.
type CleanupRuleType string

// Cleanup rule types.
const (
	RuleMaxAgeDays   CleanupRuleType = "max_age_days"
	RuleMaxStorageGB CleanupRuleType = "max_storage_gb"
)

// CleanupRule is a retention rule. Value must be positive.
type CleanupRule struct {
	ID                 uuid.UUID       `json:"id"`
	RuleType           CleanupRuleType `json:"rule_type"`
	Value              float64         `json:"value"`
	ProtectCollections bool            `json:"protect_collections"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Animation is a derived artifact record mirroring its job.
type Animation struct {
	ID        uuid.UUID   `json:"id"`
	JobID     uuid.UUID   `json:"job_id"`
	Status    JobStatus   `json:"status"`
	Format    string      `json:"format"`
	FPS       int         `json:"fps"`
	LoopStyle string      `json:"loop_style"`
	FrameIDs  []uuid.UUID `json:"frame_ids"`
	FilePath  string      `json:"file_path,omitempty"`
	FileSize  int64       `json:"file_size"`
	CreatedAt time.Time   `json:"created_at"`
}

// Composite is a derived multi-band artifact record mirroring its job.
type Composite struct {
	ID          uuid.UUID      `json:"id"`
	JobID       uuid.UUID      `json:"job_id"`
	Status      JobStatus      `json:"status"`
	Recipe      string         `json:"recipe"`
	Satellite   goes.Satellite `json:"satellite"`
	Sector      goes.Sector    `json:"sector"`
	CaptureTime time.Time      `json:"capture_time"`
	FilePath    string         `json:"file_path,omitempty"`
	FileSize    int64          `json:"file_size"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ShareLink grants expiring anonymous access to one frame.
type ShareLink struct {
	Token     string    `json:"token"`
	FrameID   uuid.UUID `json:"frame_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationType restricts notification kinds.
type NotificationType string

// Notification types.
const (
	NotifyFetchComplete NotificationType = "fetch_complete"
	NotifyFetchFailed   NotificationType = "fetch_failed"
	NotifyScheduleRun   NotificationType = "schedule_run"
)

// Notification is a user-facing event record.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// Settings keys.
const (
	SettingMaxFramesPerFetch = "max_frames_per_fetch"
	SettingWebhookURL        = "webhook_url"
)

// DefaultMaxFramesPerFetch is the frame cap applied when the setting is
// absent. The setting is clamped to [1, 1000] on read.
const DefaultMaxFramesPerFetch = 200

// ClampMaxFrames applies the frame-cap bounds.
func ClampMaxFrames(n int) int {
	if n < 1 {
		return 1
	}
	if n > 1000 {
		return 1000
	}
	return n
}
