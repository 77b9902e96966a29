// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"time"

	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/goes"
)

// FrameSortKey is the closed whitelist of frame sort columns.
type FrameSortKey string

// Frame sort keys.
const (
	SortCaptureTime FrameSortKey = "capture_time"
	SortFileSize    FrameSortKey = "file_size"
	SortSatellite   FrameSortKey = "satellite"
	SortCreatedAt   FrameSortKey = "created_at"
)

// Valid reports whether the sort key is whitelisted.
func (k FrameSortKey) Valid() bool {
	switch k {
	case SortCaptureTime, SortFileSize, SortSatellite, SortCreatedAt:
		return true
	}
	return false
}

// ListFramesOptions filters and paginates frame listings.
type ListFramesOptions struct {
	Satellite    goes.Satellite
	Sector       goes.Sector
	Band         goes.Band
	Start        *time.Time
	End          *time.Time
	CollectionID *uuid.UUID
	Tag          string
	SortKey      FrameSortKey
	Descending   bool
	Page         int
	Limit        int
}

// FrameRef is the slim projection streamed during retention scans.
type FrameRef struct {
	ID            uuid.UUID `json:"id"`
	FilePath      string    `json:"file_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	FileSize      int64     `json:"file_size"`
	CreatedAt     time.Time `json:"created_at"`
}

// StreamFramesOptions selects retention candidates. Results stream in
// created_at ascending order so storage-budget rules free oldest first.
type StreamFramesOptions struct {
	CreatedBefore    *time.Time
	ExcludeProtected bool // skip frames that belong to any collection
}

// SatBandSize is one row of the per-(satellite, band) size aggregation.
type SatBandSize struct {
	Satellite goes.Satellite `json:"satellite"`
	Band      goes.Band      `json:"band"`
	Frames    int64          `json:"frames"`
	Bytes     int64          `json:"bytes"`
}

// FrameStats is the catalog-wide aggregate.
type FrameStats struct {
	TotalFrames int64         `json:"total_frames"`
	TotalBytes  int64         `json:"total_bytes"`
	BySatellite []SatBandSize `json:"by_satellite_band"`
}

// GapFilter restricts a capture-time scan.
type GapFilter struct {
	Satellite goes.Satellite
	Sector    goes.Sector
	Band      goes.Band
}

// Frames is the catalog of satellite images.
type Frames interface {
	// Insert upserts by the (satellite, sector, band, capture_time) key
	// tuple; on conflict the existing surrogate id is kept and written back
	// into frame.ID.
	Insert(ctx context.Context, frame *Frame) error
	// CommitBatch persists a fetched batch and its auto-collection
	// membership in one transaction. The collection is looked up by name and
	// created if missing; membership inserts are idempotent.
	CommitBatch(ctx context.Context, frames []*Frame, collectionName string) error
	Get(ctx context.Context, id uuid.UUID) (*Frame, error)
	List(ctx context.Context, opts ListFramesOptions) (_ []Frame, total int64, _ error)
	Latest(ctx context.Context, sat goes.Satellite, sector goes.Sector, band goes.Band) (*Frame, error)
	// Nearest returns the frame whose capture time is closest to t.
	Nearest(ctx context.Context, sat goes.Satellite, sector goes.Sector, band goes.Band, t time.Time) (*Frame, error)
	// Delete removes rows by id and returns the removed refs so callers can
	// unlink files.
	Delete(ctx context.Context, ids []uuid.UUID) ([]FrameRef, error)
	DeleteBySourceJob(ctx context.Context, jobID uuid.UUID) ([]FrameRef, error)
	Stats(ctx context.Context) (FrameStats, error)
	TotalSize(ctx context.Context) (int64, error)
	// CaptureTimes returns capture times ascending for gap detection.
	CaptureTimes(ctx context.Context, filter GapFilter) ([]time.Time, error)
	// Stream walks matching frame refs oldest-first without materializing
	// full rows.
	Stream(ctx context.Context, opts StreamFramesOptions, fn func(FrameRef) error) error
}

// ListJobsOptions filters job listings.
type ListJobsOptions struct {
	Status JobStatus
	Type   JobType
	Page   int
	Limit  int
}

// Jobs is the durable job store.
type Jobs interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, opts ListJobsOptions) (_ []Job, total int64, _ error)
	// Start transitions pending → processing, stamping started_at and the
	// broker task id.
	Start(ctx context.Context, id uuid.UUID, taskID string, now time.Time) error
	// UpdateProgress writes the durable progress row. Throttling is the
	// caller's concern.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	// Finish applies a terminal transition: completed_at is stamped and
	// progress forced to 100 for the completed statuses.
	Finish(ctx context.Context, id uuid.UUID, status JobStatus, message, errText string, now time.Time) error
	SetOutputPath(ctx context.Context, id uuid.UUID, outputPath string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ReapStale fails processing jobs untouched since processingBefore and
	// pending jobs without a task id created before pendingBefore.
	ReapStale(ctx context.Context, processingBefore, pendingBefore time.Time, message string) (int64, error)
}

// JobLogs is the append-only per-job log.
type JobLogs interface {
	Append(ctx context.Context, entry JobLog) error
	List(ctx context.Context, jobID uuid.UUID) ([]JobLog, error)
}

// Collections groups frames.
type Collections interface {
	Create(ctx context.Context, c *Collection) error
	Get(ctx context.Context, id uuid.UUID) (*Collection, error)
	GetByName(ctx context.Context, name string) (*Collection, error)
	List(ctx context.Context) ([]Collection, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddFrame(ctx context.Context, collectionID, frameID uuid.UUID) error
	RemoveFrame(ctx context.Context, collectionID, frameID uuid.UUID) error
	FrameIDs(ctx context.Context, collectionID uuid.UUID) ([]uuid.UUID, error)
}

// Tags labels frames.
type Tags interface {
	Create(ctx context.Context, t *Tag) error
	List(ctx context.Context) ([]Tag, error)
	Update(ctx context.Context, id uuid.UUID, name, color string) error
	Delete(ctx context.Context, id uuid.UUID) error
	TagFrame(ctx context.Context, tagID, frameID uuid.UUID) error
	UntagFrame(ctx context.Context, tagID, frameID uuid.UUID) error
}

// Presets stores reusable parameter blocks, unique by (kind, name).
type Presets interface {
	Create(ctx context.Context, p *Preset) error
	Get(ctx context.Context, id uuid.UUID) (*Preset, error)
	List(ctx context.Context, kind PresetKind) ([]Preset, error)
	Update(ctx context.Context, p *Preset) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Schedules stores fetch schedules and materializes due runs.
type Schedules interface {
	Create(ctx context.Context, s *FetchSchedule) error
	Get(ctx context.Context, id uuid.UUID) (*FetchSchedule, error)
	List(ctx context.Context) ([]FetchSchedule, error)
	Update(ctx context.Context, s *FetchSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Toggle flips is_active, computing next_run_at when activating and
	// clearing it when deactivating.
	Toggle(ctx context.Context, id uuid.UUID, now time.Time) (*FetchSchedule, error)
	// Due returns active schedules with next_run_at <= now.
	Due(ctx context.Context, now time.Time) ([]FetchSchedule, error)
	// MaterializeRun creates the job row and advances the schedule's
	// last/next run stamps in the same transaction, so the job is durable
	// and visible before the broker dispatch.
	MaterializeRun(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time, job *Job) error
}

// CleanupRules stores retention rules.
type CleanupRules interface {
	Create(ctx context.Context, r *CleanupRule) error
	List(ctx context.Context) ([]CleanupRule, error)
	Active(ctx context.Context) ([]CleanupRule, error)
	Update(ctx context.Context, r *CleanupRule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Artifacts stores the derived records that mirror jobs.
type Artifacts interface {
	CreateAnimation(ctx context.Context, a *Animation) error
	UpdateAnimation(ctx context.Context, id uuid.UUID, status JobStatus, filePath string, fileSize int64) error
	GetAnimation(ctx context.Context, id uuid.UUID) (*Animation, error)
	ListAnimations(ctx context.Context) ([]Animation, error)
	CreateComposite(ctx context.Context, c *Composite) error
	UpdateComposite(ctx context.Context, id uuid.UUID, status JobStatus, filePath string, fileSize int64) error
	GetComposite(ctx context.Context, id uuid.UUID) (*Composite, error)
	ListComposites(ctx context.Context) ([]Composite, error)
}

// ShareLinks stores expiring anonymous frame links.
type ShareLinks interface {
	Create(ctx context.Context, link *ShareLink) error
	Get(ctx context.Context, token string) (*ShareLink, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifications stores user-facing event records.
type Notifications interface {
	Add(ctx context.Context, n *Notification) error
	List(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) error
}

// Settings is the persistent key/value tunable store.
type Settings interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// MaxFramesPerFetch reads the frame cap, applying default and clamp.
	MaxFramesPerFetch(ctx context.Context) (int, error)
}

// DB is the transactional catalog store.
type DB interface {
	Frames() Frames
	Jobs() Jobs
	JobLogs() JobLogs
	Collections() Collections
	Tags() Tags
	Presets() Presets
	Schedules() Schedules
	CleanupRules() CleanupRules
	Artifacts() Artifacts
	ShareLinks() ShareLinks
	Notifications() Notifications
	Settings() Settings

	// EnsureSchema creates missing tables. Migrations proper are applied
	// out-of-band; this is the warning-only startup fallback.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
