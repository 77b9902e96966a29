// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/goes"
)

func openTestDB(t *testing.T) (context.Context, catalog.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := catalogdb.Open(ctx, zaptest.NewLogger(t), ":memory:", catalogdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.EnsureSchema(ctx))
	return ctx, db
}

func testFrame(sat goes.Satellite, band goes.Band, capture time.Time) *catalog.Frame {
	return &catalog.Frame{
		Satellite:   sat,
		Sector:      goes.CONUS,
		Band:        band,
		CaptureTime: capture,
		FilePath:    "/data/goes/" + capture.Format("20060102T150405") + ".png",
		FileSize:    1 << 20,
		Width:       2500,
		Height:      1500,
	}
}

func TestFramesUpsertKeepsSurrogateID(t *testing.T) {
	ctx, db := openTestDB(t)

	capture := time.Date(2024, 6, 14, 12, 0, 21, 0, time.UTC)
	first := testFrame(goes.GOES19, goes.Band("C13"), capture)
	require.NoError(t, db.Frames().Insert(ctx, first))
	require.False(t, first.ID.IsZero())

	// Same key tuple, new file: the row is updated in place and the
	// original id is written back.
	second := testFrame(goes.GOES19, goes.Band("C13"), capture)
	second.FilePath = "/data/goes/refetched.png"
	second.FileSize = 2 << 20
	require.NoError(t, db.Frames().Insert(ctx, second))
	require.Equal(t, first.ID, second.ID)

	got, err := db.Frames().Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "/data/goes/refetched.png", got.FilePath)
	require.Equal(t, int64(2<<20), got.FileSize)

	stats, err := db.Frames().Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalFrames)
}

func TestFramesCommitBatchIdempotent(t *testing.T) {
	ctx, db := openTestDB(t)

	base := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	var batch []*catalog.Frame
	for i := 0; i < 3; i++ {
		batch = append(batch, testFrame(goes.GOES19, goes.Band("C02"), base.Add(time.Duration(i)*5*time.Minute)))
	}
	require.NoError(t, db.Frames().CommitBatch(ctx, batch, "GOES-19 CONUS C02"))

	col, err := db.Collections().GetByName(ctx, "GOES-19 CONUS C02")
	require.NoError(t, err)
	require.Equal(t, 3, col.FrameCount)

	// Re-committing the same batch must not grow the collection.
	require.NoError(t, db.Frames().CommitBatch(ctx, batch, "GOES-19 CONUS C02"))
	col, err = db.Collections().GetByName(ctx, "GOES-19 CONUS C02")
	require.NoError(t, err)
	require.Equal(t, 3, col.FrameCount)
}

func TestFramesListFilterSortPaginate(t *testing.T) {
	ctx, db := openTestDB(t)

	base := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Frames().Insert(ctx, testFrame(goes.GOES19, goes.Band("C13"), base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, db.Frames().Insert(ctx, testFrame(goes.GOES18, goes.Band("C13"), base)))

	frames, total, err := db.Frames().List(ctx, catalog.ListFramesOptions{
		Satellite:  goes.GOES19,
		SortKey:    catalog.SortCaptureTime,
		Descending: true,
		Page:       1,
		Limit:      2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, frames, 2)
	require.True(t, frames[0].CaptureTime.After(frames[1].CaptureTime))

	frames, _, err = db.Frames().List(ctx, catalog.ListFramesOptions{
		Satellite: goes.GOES19, SortKey: catalog.SortCaptureTime, Descending: true,
		Page: 3, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	start := base.Add(2 * time.Hour)
	_, total, err = db.Frames().List(ctx, catalog.ListFramesOptions{
		Satellite: goes.GOES19, Start: &start,
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	_, _, err = db.Frames().List(ctx, catalog.ListFramesOptions{SortKey: "file_path; DROP TABLE jobs"})
	require.Error(t, err)
}

func TestFramesNearest(t *testing.T) {
	ctx, db := openTestDB(t)

	early := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	require.NoError(t, db.Frames().Insert(ctx, testFrame(goes.GOES19, goes.Band("C13"), early)))
	require.NoError(t, db.Frames().Insert(ctx, testFrame(goes.GOES19, goes.Band("C13"), late)))

	got, err := db.Frames().Nearest(ctx, goes.GOES19, goes.CONUS, goes.Band("C13"), early.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, early, got.CaptureTime)

	got, err = db.Frames().Nearest(ctx, goes.GOES19, goes.CONUS, goes.Band("C13"), late.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, late, got.CaptureTime)

	_, err = db.Frames().Nearest(ctx, goes.GOES16, goes.CONUS, goes.Band("C13"), early)
	require.True(t, catalog.ErrNotFound.Has(err))
}

func TestFramesStreamExcludesProtected(t *testing.T) {
	ctx, db := openTestDB(t)

	base := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	var frames []*catalog.Frame
	for i := 0; i < 4; i++ {
		frame := testFrame(goes.GOES19, goes.Band("C13"), base.Add(time.Duration(i)*time.Hour))
		frame.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, db.Frames().Insert(ctx, frame))
		frames = append(frames, frame)
	}

	protected := &catalog.Collection{Name: "keepers"}
	require.NoError(t, db.Collections().Create(ctx, protected))
	require.NoError(t, db.Collections().AddFrame(ctx, protected.ID, frames[1].ID))

	var seen []uuid.UUID
	err := db.Frames().Stream(ctx, catalog.StreamFramesOptions{ExcludeProtected: true},
		func(ref catalog.FrameRef) error {
			seen = append(seen, ref.ID)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	require.NotContains(t, seen, frames[1].ID)
	// Oldest first.
	require.Equal(t, frames[0].ID, seen[0])
}

func TestJobLifecycle(t *testing.T) {
	ctx, db := openTestDB(t)

	job := &catalog.Job{
		Type:   catalog.JobGoesFetch,
		Params: map[string]any{"satellite": "GOES-19", "band": "13"},
	}
	require.NoError(t, db.Jobs().Create(ctx, job))
	require.Equal(t, catalog.JobPending, job.Status)

	now := time.Now().UTC()
	require.NoError(t, db.Jobs().Start(ctx, job.ID, "task-1", now))

	// A second start must not steal the job.
	err := db.Jobs().Start(ctx, job.ID, "task-2", now)
	require.True(t, catalog.ErrConflict.Has(err))

	require.NoError(t, db.Jobs().UpdateProgress(ctx, job.ID, 40, "downloading 4/10"))

	require.Error(t, db.Jobs().Finish(ctx, job.ID, catalog.JobProcessing, "", "", now))
	require.NoError(t, db.Jobs().Finish(ctx, job.ID, catalog.JobCompleted, "done", "", now))

	got, err := db.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, "GOES-19", got.Params["satellite"])
}

func TestJobsReapStale(t *testing.T) {
	ctx, db := openTestDB(t)

	now := time.Now().UTC()

	stale := &catalog.Job{Type: catalog.JobGoesFetch}
	require.NoError(t, db.Jobs().Create(ctx, stale))
	require.NoError(t, db.Jobs().Start(ctx, stale.ID, "task-stale", now.Add(-3*time.Hour)))

	fresh := &catalog.Job{Type: catalog.JobGoesFetch}
	require.NoError(t, db.Jobs().Create(ctx, fresh))
	require.NoError(t, db.Jobs().Start(ctx, fresh.ID, "task-fresh", now))
	require.NoError(t, db.Jobs().UpdateProgress(ctx, fresh.ID, 10, "working"))

	orphan := &catalog.Job{Type: catalog.JobAnimation, CreatedAt: now.Add(-2 * time.Hour)}
	require.NoError(t, db.Jobs().Create(ctx, orphan))

	reaped, err := db.Jobs().ReapStale(ctx, now.Add(-time.Hour), now.Add(-time.Hour), "reaped by stale sweep")
	require.NoError(t, err)
	require.EqualValues(t, 2, reaped)

	got, err := db.Jobs().Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, got.Status)

	got, err = db.Jobs().Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobProcessing, got.Status)

	got, err = db.Jobs().Get(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, got.Status)
}

func TestJobLogsOrdered(t *testing.T) {
	ctx, db := openTestDB(t)

	job := &catalog.Job{Type: catalog.JobGoesFetch}
	require.NoError(t, db.Jobs().Create(ctx, job))

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.JobLogs().Append(ctx, catalog.JobLog{
			JobID:     job.ID,
			Level:     "info",
			Message:   "step " + strconv.Itoa(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := db.JobLogs().List(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, "step 0", logs[0].Message)
	require.Equal(t, "step 2", logs[2].Message)
}

func TestCollectionsConflictAndDelete(t *testing.T) {
	ctx, db := openTestDB(t)

	col := &catalog.Collection{Name: "june storms"}
	require.NoError(t, db.Collections().Create(ctx, col))

	dup := &catalog.Collection{Name: "june storms"}
	err := db.Collections().Create(ctx, dup)
	require.True(t, catalog.ErrConflict.Has(err))

	frame := testFrame(goes.GOES19, goes.Band("C13"), time.Now().UTC())
	require.NoError(t, db.Frames().Insert(ctx, frame))
	require.NoError(t, db.Collections().AddFrame(ctx, col.ID, frame.ID))
	// Membership insert is idempotent.
	require.NoError(t, db.Collections().AddFrame(ctx, col.ID, frame.ID))

	ids, err := db.Collections().FrameIDs(ctx, col.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{frame.ID}, ids)

	require.NoError(t, db.Collections().Delete(ctx, col.ID))
	_, err = db.Collections().Get(ctx, col.ID)
	require.True(t, catalog.ErrNotFound.Has(err))

	// Deleting the collection must not delete the frame.
	_, err = db.Frames().Get(ctx, frame.ID)
	require.NoError(t, err)
}

func TestPresetsUniquePerKind(t *testing.T) {
	ctx, db := openTestDB(t)

	crop := &catalog.Preset{Kind: catalog.PresetCrop, Name: "florida", Params: map[string]any{"x": 100.0}}
	require.NoError(t, db.Presets().Create(ctx, crop))

	// Same name under a different kind is fine.
	fetch := &catalog.Preset{Kind: catalog.PresetFetch, Name: "florida"}
	require.NoError(t, db.Presets().Create(ctx, fetch))

	dup := &catalog.Preset{Kind: catalog.PresetCrop, Name: "florida"}
	err := db.Presets().Create(ctx, dup)
	require.True(t, catalog.ErrConflict.Has(err))

	got, err := db.Presets().Get(ctx, crop.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, got.Params["x"])
}

func TestScheduleToggleAndDue(t *testing.T) {
	ctx, db := openTestDB(t)

	preset := &catalog.Preset{Kind: catalog.PresetFetch, Name: "goes19 conus"}
	require.NoError(t, db.Presets().Create(ctx, preset))

	sched := &catalog.FetchSchedule{PresetID: preset.ID, IntervalMinutes: 30}
	require.NoError(t, db.Schedules().Create(ctx, sched))
	require.Nil(t, sched.NextRunAt)

	now := time.Now().UTC()
	toggled, err := db.Schedules().Toggle(ctx, sched.ID, now)
	require.NoError(t, err)
	require.True(t, toggled.IsActive)
	require.NotNil(t, toggled.NextRunAt)
	require.Equal(t, now.Add(30*time.Minute).Truncate(time.Second), toggled.NextRunAt.Truncate(time.Second))

	// Not due yet.
	due, err := db.Schedules().Due(ctx, now)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = db.Schedules().Due(ctx, now.Add(31*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	toggled, err = db.Schedules().Toggle(ctx, sched.ID, now)
	require.NoError(t, err)
	require.False(t, toggled.IsActive)
	require.Nil(t, toggled.NextRunAt)
}

func TestScheduleMaterializeRun(t *testing.T) {
	ctx, db := openTestDB(t)

	preset := &catalog.Preset{Kind: catalog.PresetFetch, Name: "goes19 conus"}
	require.NoError(t, db.Presets().Create(ctx, preset))
	sched := &catalog.FetchSchedule{PresetID: preset.ID, IntervalMinutes: 30, IsActive: true}
	require.NoError(t, db.Schedules().Create(ctx, sched))

	now := time.Now().UTC()
	job := &catalog.Job{Type: catalog.JobGoesFetch}
	require.NoError(t, db.Schedules().MaterializeRun(ctx, sched.ID, now, now.Add(30*time.Minute), job))

	got, err := db.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobPending, got.Status)

	updated, err := db.Schedules().Get(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRunAt)
	require.NotNil(t, updated.NextRunAt)
	require.Equal(t, now.Add(30*time.Minute).Truncate(time.Second), updated.NextRunAt.Truncate(time.Second))
}

func TestCleanupRulesRejectNonPositive(t *testing.T) {
	ctx, db := openTestDB(t)

	err := db.CleanupRules().Create(ctx, &catalog.CleanupRule{RuleType: catalog.RuleMaxAgeDays, Value: 0})
	require.Error(t, err)

	rule := &catalog.CleanupRule{RuleType: catalog.RuleMaxStorageGB, Value: 50, ProtectCollections: true, IsActive: true}
	require.NoError(t, db.CleanupRules().Create(ctx, rule))

	inactive := &catalog.CleanupRule{RuleType: catalog.RuleMaxAgeDays, Value: 30}
	require.NoError(t, db.CleanupRules().Create(ctx, inactive))

	active, err := db.CleanupRules().Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, catalog.RuleMaxStorageGB, active[0].RuleType)
}

func TestArtifactsRoundTrip(t *testing.T) {
	ctx, db := openTestDB(t)

	job := &catalog.Job{Type: catalog.JobAnimation}
	require.NoError(t, db.Jobs().Create(ctx, job))

	frame := testFrame(goes.GOES19, goes.Band("C13"), time.Now().UTC())
	require.NoError(t, db.Frames().Insert(ctx, frame))

	anim := &catalog.Animation{
		JobID:     job.ID,
		Status:    catalog.JobPending,
		Format:    "mp4",
		FPS:       24,
		LoopStyle: "boomerang",
		FrameIDs:  []uuid.UUID{frame.ID},
	}
	require.NoError(t, db.Artifacts().CreateAnimation(ctx, anim))
	require.NoError(t, db.Artifacts().UpdateAnimation(ctx, anim.ID, catalog.JobCompleted, "/out/a.mp4", 4096))

	got, err := db.Artifacts().GetAnimation(ctx, anim.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, got.Status)
	require.Equal(t, []uuid.UUID{frame.ID}, got.FrameIDs)
	require.Equal(t, "/out/a.mp4", got.FilePath)

	compJob := &catalog.Job{Type: catalog.JobCompositeGenerate}
	require.NoError(t, db.Jobs().Create(ctx, compJob))
	comp := &catalog.Composite{
		JobID:       compJob.ID,
		Status:      catalog.JobPending,
		Recipe:      "true_color",
		Satellite:   goes.GOES19,
		Sector:      goes.CONUS,
		CaptureTime: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, db.Artifacts().CreateComposite(ctx, comp))

	comps, err := db.Artifacts().ListComposites(ctx)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	require.Equal(t, "true_color", comps[0].Recipe)
}

func TestShareLinksExpire(t *testing.T) {
	ctx, db := openTestDB(t)

	frame := testFrame(goes.GOES19, goes.Band("C13"), time.Now().UTC())
	require.NoError(t, db.Frames().Insert(ctx, frame))

	now := time.Now().UTC()
	require.NoError(t, db.ShareLinks().Create(ctx, &catalog.ShareLink{
		Token: "live-token", FrameID: frame.ID, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, db.ShareLinks().Create(ctx, &catalog.ShareLink{
		Token: "dead-token", FrameID: frame.ID, ExpiresAt: now.Add(-time.Hour),
	}))

	removed, err := db.ShareLinks().DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = db.ShareLinks().Get(ctx, "dead-token")
	require.True(t, catalog.ErrNotFound.Has(err))

	link, err := db.ShareLinks().Get(ctx, "live-token")
	require.NoError(t, err)
	require.Equal(t, frame.ID, link.FrameID)
}

func TestNotifications(t *testing.T) {
	ctx, db := openTestDB(t)

	first := &catalog.Notification{Type: catalog.NotifyFetchComplete, Message: "fetched 10 frames"}
	require.NoError(t, db.Notifications().Add(ctx, first))
	second := &catalog.Notification{Type: catalog.NotifyFetchFailed, Message: "bucket unreachable"}
	require.NoError(t, db.Notifications().Add(ctx, second))

	unread, err := db.Notifications().List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 2)

	require.NoError(t, db.Notifications().MarkRead(ctx, first.ID))
	unread, err = db.Notifications().List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, db.Notifications().MarkAllRead(ctx))
	unread, err = db.Notifications().List(ctx, true, 10)
	require.NoError(t, err)
	require.Empty(t, unread)

	all, err := db.Notifications().List(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSettingsClamp(t *testing.T) {
	ctx, db := openTestDB(t)

	n, err := db.Settings().MaxFramesPerFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.DefaultMaxFramesPerFetch, n)

	require.NoError(t, db.Settings().Set(ctx, catalog.SettingMaxFramesPerFetch, "5000"))
	n, err = db.Settings().MaxFramesPerFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	require.NoError(t, db.Settings().Set(ctx, catalog.SettingMaxFramesPerFetch, "0"))
	n, err = db.Settings().MaxFramesPerFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, db.Settings().Set(ctx, catalog.SettingMaxFramesPerFetch, "not a number"))
	n, err = db.Settings().MaxFramesPerFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.DefaultMaxFramesPerFetch, n)

	// Set is an upsert.
	require.NoError(t, db.Settings().Set(ctx, catalog.SettingWebhookURL, "https://example.com/hook"))
	require.NoError(t, db.Settings().Set(ctx, catalog.SettingWebhookURL, "https://example.com/hook2"))
	value, ok, err := db.Settings().Get(ctx, catalog.SettingWebhookURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://example.com/hook2", value)
}
