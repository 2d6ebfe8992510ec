package repository

import (
	"context"
	"testing"
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/TimeWtr/job_runner/repository/dao"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	require.NoError(t, dao.Migrate(context.Background(), db))
	return db
}

// seed 一个项目，池1中两个启用的worker和一个关闭的worker
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	create := func(v any) {
		require.NoError(t, db.WithContext(ctx).Create(v).Error)
	}

	create(&dao.Project{ID: 1, Title: "project", NotificationAddresses: "project@example.com"})
	create(&dao.Worker{ID: 1, Title: "w1", APIKey: "key-1", EnqueueIsEnabled: true, ProjectID: 1,
		NotificationAddresses: "worker@example.com, project@example.com"})
	create(&dao.Worker{ID: 2, Title: "w2", APIKey: "key-2", EnqueueIsEnabled: true, ProjectID: 1})
	create(&dao.Worker{ID: 3, Title: "w3", APIKey: "key-3", EnqueueIsEnabled: false, ProjectID: 1})
	create(&dao.WorkerPool{ID: 1, Title: "pool"})
	require.NoError(t, db.Exec(
		"INSERT INTO worker_pool_workers (worker_pool_id, worker_id) VALUES (1, 1), (1, 2), (1, 3)").Error)
	create(&dao.JobTemplate{ID: 1, Title: "template", WorkerID: 1,
		NotificationAddresses: "template@example.com"})

	create(&dao.Job{ID: 1, Title: "Test job 1", JobTemplateID: 1, WorkerPoolID: 1,
		EnqueueIsEnabled: true, RescheduleType: "AFTER_COMPLETE_DTS",
		RescheduleIntervalType: "HOUR", RescheduleInterval: 1,
		NotificationAddresses: "job@example.com"})
	create(&dao.Job{ID: 2, Title: "disabled", JobTemplateID: 1, WorkerPoolID: 1,
		EnqueueIsEnabled: false, RescheduleType: "NONE", ParentID: ptr(int64(1))})
	create(&dao.RescheduleExclude{JobID: 1, Note: "lunch", StartTime: "12:00:00", EndTime: "13:00"})
	create(&dao.RescheduleExclude{JobID: 1, StartTime: "22:00:00", EndTime: "02:00:00"})
}

func ptr[T any](v T) *T {
	return &v
}

func TestRepository_GetJob(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)

	job, err := repo.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Test job 1", job.Title)
	assert.Equal(t, _const.RescheduleAfterCompleteDts, job.RescheduleType)
	assert.Equal(t, _const.IntervalHour, job.RescheduleIntervalType)
	require.Len(t, job.Excludes, 2)
	assert.Equal(t, domain.NewTimeOfDay(12, 0, 0), job.Excludes[0].StartTime)
	assert.Equal(t, domain.NewTimeOfDay(13, 0, 0), job.Excludes[0].EndTime)
	assert.Equal(t, 4*time.Hour, job.Excludes[1].Duration())

	assert.Equal(t, []string{
		"job@example.com",
		"template@example.com",
		"worker@example.com",
		"project@example.com",
	}, domain.CollectAddresses(&job))

	children, err := repo.ListChildJobs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, int64(2), children[0].ID)
	assert.False(t, children[0].Reschedulable())

	_, err = repo.GetJob(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_Runs(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.LatestRun(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	done := &domain.Run{
		JobID:         1,
		ScheduleID:    "done",
		ScheduleDts:   now.Add(-2 * time.Hour),
		EnqueueDts:    ptr(now.Add(-2 * time.Hour)),
		StartDts:      ptr(now.Add(-2 * time.Hour)),
		ReturnDts:     ptr(now.Add(-time.Hour)),
		ReturnSuccess: ptr(true),
	}
	require.NoError(t, repo.CreateRun(ctx, done))
	assert.NotZero(t, done.ID)

	scheduled, err := repo.HasScheduledRun(ctx, 1)
	require.NoError(t, err)
	assert.False(t, scheduled)

	loc := time.FixedZone("UTC+8", 8*60*60)
	next := &domain.Run{JobID: 1, ScheduleID: "next", ScheduleDts: now.Add(time.Hour).In(loc),
		ScheduleChildren: true}
	require.NoError(t, repo.CreateRun(ctx, next))

	scheduled, err = repo.HasScheduledRun(ctx, 1)
	require.NoError(t, err)
	assert.True(t, scheduled)

	latest, err := repo.LatestRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, next.ID, latest.ID)
	assert.True(t, now.Add(time.Hour).Equal(latest.ScheduleDts))
	assert.Equal(t, _const.RunStateScheduled, latest.State())

	completed, err := repo.LatestCompletedRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, done.ID, completed.ID)
	assert.Equal(t, _const.RunStateCompletedSuccessful, completed.State())
	// 未指定时使用列默认值
	assert.True(t, completed.ScheduleChildren)

	run, err := repo.GetRun(ctx, next.ID)
	require.NoError(t, err)
	require.NotNil(t, run.Job)
	assert.Equal(t, "Test job 1", run.Job.Title)
	assert.True(t, run.ScheduleChildren)
	assert.Nil(t, run.Worker)
}

func TestRepository_ListRuns(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	failed := &domain.Run{JobID: 1, ScheduleDts: now.Add(-3 * time.Hour), EnqueueDts: ptr(now.Add(-3 * time.Hour)),
		StartDts: ptr(now.Add(-3 * time.Hour)), ReturnDts: ptr(now.Add(-3 * time.Hour)), ReturnSuccess: ptr(false)}
	succeeded := &domain.Run{JobID: 1, ScheduleDts: now.Add(-2 * time.Hour), EnqueueDts: ptr(now.Add(-2 * time.Hour)),
		StartDts: ptr(now.Add(-2 * time.Hour)), ReturnDts: ptr(now.Add(-time.Hour)), ReturnSuccess: ptr(true)}
	started := &domain.Run{JobID: 1, WorkerID: ptr(int64(1)), ScheduleDts: now.Add(-time.Hour),
		EnqueueDts: ptr(now.Add(-time.Hour)), StartDts: ptr(now)}
	scheduled := &domain.Run{JobID: 1, ScheduleDts: now.Add(time.Hour)}
	other := &domain.Run{JobID: 2, ScheduleDts: now}
	for _, r := range []*domain.Run{failed, succeeded, started, scheduled, other} {
		require.NoError(t, repo.CreateRun(ctx, r))
	}

	ids := func(runs []domain.Run) []int64 {
		res := make([]int64, 0, len(runs))
		for _, r := range runs {
			res = append(res, r.ID)
		}
		return res
	}

	testCases := []struct {
		name  string
		state _const.RunState
		limit int
		want  []int64
	}{
		{name: "all", want: []int64{scheduled.ID, started.ID, succeeded.ID, failed.ID}},
		{name: "limit", limit: 2, want: []int64{scheduled.ID, started.ID}},
		{name: "completed", state: _const.RunStateCompleted, want: []int64{succeeded.ID, failed.ID}},
		{name: "completed with error", state: _const.RunStateCompletedWithError, want: []int64{failed.ID}},
		{name: "started", state: _const.RunStateStarted, want: []int64{started.ID}},
		{name: "in queue", state: _const.RunStateInQueue, want: []int64{}},
		{name: "completed limit", state: _const.RunStateCompleted, limit: 1, want: []int64{succeeded.ID}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runs, err := repo.ListRuns(ctx, 1, tc.state, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(runs))
		})
	}

	runs, err := repo.ListRuns(ctx, 1, _const.RunStateStarted, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Worker)
	assert.Equal(t, "key-1", runs[0].Worker.APIKey)
}

func TestRepository_EnqueueableRuns(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	due := &domain.Run{JobID: 1, ScheduleDts: now.Add(-time.Minute)}
	assigned := &domain.Run{JobID: 1, WorkerID: ptr(int64(2)), ScheduleDts: now}
	future := &domain.Run{JobID: 1, ScheduleDts: now.Add(time.Minute)}
	enqueued := &domain.Run{JobID: 1, ScheduleDts: now.Add(-time.Hour), EnqueueDts: ptr(now.Add(-time.Hour))}
	disabled := &domain.Run{JobID: 2, ScheduleDts: now.Add(-time.Minute)}
	manual := &domain.Run{JobID: 2, ScheduleDts: now.Add(-time.Second), IsManual: true}
	for _, r := range []*domain.Run{due, assigned, future, enqueued, disabled, manual} {
		require.NoError(t, repo.CreateRun(ctx, r))
	}

	runs, err := repo.EnqueueableRuns(ctx, now)
	require.NoError(t, err)

	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
		require.NotNil(t, r.Job)
	}
	assert.Equal(t, []int64{due.ID, manual.ID, assigned.ID}, ids)
	require.NotNil(t, runs[2].Worker)
	assert.Equal(t, "key-2", runs[2].Worker.APIKey)

	require.NoError(t, repo.MarkRunEnqueued(ctx, due.ID, 1, now))
	err = repo.MarkRunEnqueued(ctx, due.ID, 2, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repo.GetRun(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *stored.WorkerID)
	assert.True(t, now.Equal(*stored.EnqueueDts))
	assert.Equal(t, _const.RunStateInQueue, stored.State())
}

func TestRepository_EnqueueableRunsWithInvalidJob(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	require.NoError(t, db.Create(&dao.Job{ID: 9, Title: "weekly", JobTemplateID: 1, WorkerPoolID: 1,
		EnqueueIsEnabled: true, RescheduleType: "WEEKLY", RescheduleInterval: 1}).Error)
	repo := NewRepository(db)
	ctx := context.Background()

	broken := &domain.Run{JobID: 9, ScheduleDts: now.Add(-2 * time.Minute)}
	due := &domain.Run{JobID: 1, ScheduleDts: now.Add(-time.Minute)}
	for _, r := range []*domain.Run{broken, due} {
		require.NoError(t, repo.CreateRun(ctx, r))
	}

	runs, err := repo.EnqueueableRuns(ctx, now)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, broken.ID, runs[0].ID)
	assert.Nil(t, runs[0].Job)
	assert.Equal(t, due.ID, runs[1].ID)
	require.NotNil(t, runs[1].Job)
	assert.Equal(t, "Test job 1", runs[1].Job.Title)

	// 单独读取时仍然返回转换错误
	_, err = repo.GetRun(ctx, broken.ID)
	assert.Error(t, err)
}

func TestRepository_ForkRun(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	original := &domain.Run{JobID: 1, ScheduleDts: now, IsManual: true, ScheduleChildren: true}
	require.NoError(t, repo.CreateRun(ctx, original))
	job, err := repo.GetJob(ctx, 1)
	require.NoError(t, err)
	original.Job = &job

	workers, err := repo.EnabledPoolWorkers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, workers, 2)

	forked, err := repo.ForkRun(ctx, *original, workers)
	require.NoError(t, err)
	require.Len(t, forked, 2)
	for i, r := range forked {
		assert.NotEqual(t, original.ID, r.ID)
		assert.Equal(t, original.GetScheduleID(), r.ScheduleID)
		assert.Equal(t, workers[i].ID, *r.WorkerID)
		assert.Equal(t, workers[i].APIKey, r.Worker.APIKey)
		assert.True(t, r.IsManual)
		assert.True(t, r.ScheduleChildren)
		assert.Same(t, original.Job, r.Job)
	}

	_, err = repo.GetRun(ctx, original.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 原始Run已经不存在，整个事务回滚
	_, err = repo.ForkRun(ctx, *original, workers)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var count int64
	require.NoError(t, db.Model(&dao.Run{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRepository_Workers(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)

	workers, err := repo.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Len(t, workers, 3)

	enabled, err := repo.EnabledPoolWorkers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "key-1", enabled[0].APIKey)
	assert.Equal(t, "key-2", enabled[1].APIKey)

	empty, err := repo.EnabledPoolWorkers(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepository_KillableRequests(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	started := &domain.Run{JobID: 1, WorkerID: ptr(int64(1)), ScheduleDts: now,
		EnqueueDts: ptr(now), StartDts: ptr(now)}
	pending := &domain.Run{JobID: 1, ScheduleDts: now}
	finished := &domain.Run{JobID: 1, WorkerID: ptr(int64(1)), ScheduleDts: now,
		EnqueueDts: ptr(now), StartDts: ptr(now), ReturnDts: ptr(now), ReturnSuccess: ptr(false)}
	for _, r := range []*domain.Run{started, pending, finished} {
		require.NoError(t, repo.CreateRun(ctx, r))
	}

	requests := []dao.KillRequest{
		{RunID: started.ID, ScheduleDts: now},
		{RunID: started.ID, ScheduleDts: now, ExecuteDts: ptr(now)},
		{RunID: pending.ID, ScheduleDts: now},
		{RunID: finished.ID, ScheduleDts: now},
	}
	for i := range requests {
		require.NoError(t, db.Create(&requests[i]).Error)
	}

	killable, err := repo.KillableRequests(ctx)
	require.NoError(t, err)
	require.Len(t, killable, 1)
	assert.Equal(t, requests[0].ID, killable[0].ID)
	require.NotNil(t, killable[0].Run)
	require.NotNil(t, killable[0].Run.Worker)
	assert.Equal(t, "key-1", killable[0].Run.Worker.APIKey)
	assert.True(t, killable[0].Killable())
}
