package job_runner

import (
	"context"
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	// ErrExcludeNotResolved 在迭代上限内无法离开排除窗口
	ErrExcludeNotResolved = errors.New("schedule time stays inside exclude windows")
	// ErrPastNotResolved 在迭代上限内无法得到未来的时间
	ErrPastNotResolved = errors.New("schedule time stays in the past")
	// ErrInvalidInterval 间隔倍数必须为正数
	ErrInvalidInterval = errors.New("reschedule interval must be positive")
)

type RescheduleOptions func(r *Rescheduler)

// WithLocation 排除窗口和按月计算使用的时区
func WithLocation(loc *time.Location) RescheduleOptions {
	return func(r *Rescheduler) {
		r.loc = loc
	}
}

func WithRescheduleClock(now func() time.Time) RescheduleOptions {
	return func(r *Rescheduler) {
		r.now = now
	}
}

// WithIterationLimits 排除窗口平移次数和过去时间保护的递增次数上限
func WithIterationLimits(maxExclude, maxPast int) RescheduleOptions {
	return func(r *Rescheduler) {
		r.maxExcludeIterations = maxExclude
		r.maxPastIterations = maxPast
	}
}

func WithRescheduleMetrics(m *Metrics) RescheduleOptions {
	return func(r *Rescheduler) {
		r.metrics = m
	}
}

// Rescheduler 计算并创建Job的下一次Run
// 在调用方的请求上下文中同步执行，只做有限次的计算
type Rescheduler struct {
	store    RescheduleStore
	notifier Notifier
	logger   Logger
	metrics  *Metrics

	loc                  *time.Location
	now                  func() time.Time
	maxExcludeIterations int
	maxPastIterations    int
}

func NewRescheduler(store RescheduleStore, notifier Notifier, logger Logger,
	opts ...RescheduleOptions) *Rescheduler {
	r := &Rescheduler{
		store:                store,
		notifier:             notifier,
		logger:               logger,
		loc:                  time.UTC,
		now:                  time.Now,
		maxExcludeIterations: _const.DefaultMaxExcludeIterations,
		maxPastIterations:    _const.DefaultMaxPastIterations,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reschedule 为Job创建下一次Run，最多创建一个
// 没有创建时返回nil；无法计算出合法时间时发送通知并返回nil，不向调用方报错
// 只有存储错误会返回error
func (r *Rescheduler) Reschedule(ctx context.Context, jobID int64) (*domain.Run, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Reschedulable() {
		return nil, nil
	}

	// 已经存在等待投递的Run，保证幂等
	scheduled, err := r.store.HasScheduledRun(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if scheduled {
		return nil, nil
	}

	anchor, ok, err := r.anchor(ctx, job)
	if err != nil || !ok {
		return nil, err
	}

	next, err := r.NextScheduleDts(job, anchor)
	if err != nil {
		r.fail(ctx, job, err)
		return nil, nil
	}

	run := &domain.Run{
		JobID:            job.ID,
		Job:              &job,
		ScheduleID:       uuid.NewString(),
		ScheduleDts:      next,
		ScheduleChildren: true,
	}
	if err = r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.metrics.incRunsCreated("reschedule", 1)
	r.logger.Info("job rescheduled", Int64Field("job", job.ID),
		Int64Field("run", run.ID), TimeField("schedule_dts", next))
	return run, nil
}

// anchor 计算基准时间，没有可用的基准时返回false
func (r *Rescheduler) anchor(ctx context.Context, job domain.Job) (time.Time, bool, error) {
	switch job.RescheduleType {
	case _const.RescheduleAfterScheduleDts:
		run, err := r.store.LatestRun(ctx, job.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, err
		}
		return run.ScheduleDts, true, nil
	case _const.RescheduleAfterCompleteDts:
		// 最近一次Run还没有结束时等待它完成后再调度
		latest, err := r.store.LatestRun(ctx, job.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, err
		}
		if latest.ReturnDts == nil {
			return time.Time{}, false, nil
		}

		run, err := r.store.LatestCompletedRun(ctx, job.ID)
		if err != nil {
			return time.Time{}, false, err
		}
		if run.ReturnDts == nil {
			return time.Time{}, false, nil
		}
		return *run.ReturnDts, true, nil
	default:
		return time.Time{}, false, nil
	}
}

// NextScheduleDts 从anchor开始计算下一次计划时间
// 1. anchor加上一个间隔
// 2. 落在排除窗口内时按窗口长度平移，直到不在任何窗口内
// 3. 不晚于当前时间时继续增加间隔并重新检查排除窗口
func (r *Rescheduler) NextScheduleDts(job domain.Job, anchor time.Time) (time.Time, error) {
	if job.RescheduleInterval <= 0 {
		return time.Time{}, errors.Wrapf(ErrInvalidInterval, "got %d", job.RescheduleInterval)
	}

	// 平移次数在整个计算过程中共享
	excludes := newIterationLimit(r.maxExcludeIterations)
	past := newIterationLimit(r.maxPastIterations)
	now := r.now()

	candidate, err := AddInterval(anchor.In(r.loc), job.RescheduleIntervalType, job.RescheduleInterval)
	if err != nil {
		return time.Time{}, err
	}
	if candidate, err = r.escapeExcludes(candidate, job.Excludes, excludes); err != nil {
		return time.Time{}, err
	}

	for !candidate.After(now) {
		if err = past.Next(); err != nil {
			return time.Time{}, errors.Wrapf(ErrPastNotResolved, "after %d increments", r.maxPastIterations)
		}
		candidate, err = AddInterval(candidate, job.RescheduleIntervalType, job.RescheduleInterval)
		if err != nil {
			return time.Time{}, err
		}
		if candidate, err = r.escapeExcludes(candidate, job.Excludes, excludes); err != nil {
			return time.Time{}, err
		}
	}

	return candidate, nil
}

func (r *Rescheduler) escapeExcludes(candidate time.Time, windows []domain.RescheduleExclude,
	limit *iterationLimit) (time.Time, error) {
	for {
		w, ok := InExcludeWindow(candidate, windows)
		if !ok {
			return candidate, nil
		}
		if err := limit.Next(); err != nil {
			return time.Time{}, errors.Wrapf(ErrExcludeNotResolved, "after %d shifts", r.maxExcludeIterations)
		}
		candidate = candidate.Add(w.Duration())
	}
}

// fail 重新调度失败只通知，不影响调用方的操作
func (r *Rescheduler) fail(ctx context.Context, job domain.Job, cause error) {
	r.metrics.incRescheduleFailure()
	r.logger.Warn("failed to reschedule job", Int64Field("job", job.ID), ErrField(cause))

	if err := r.notifier.Notify(ctx, rescheduleErrorNotification(job, cause)); err != nil {
		r.logger.Error("failed to send reschedule notification",
			Int64Field("job", job.ID), ErrField(err))
	}
}

type ScheduleNowOptions func(run *domain.Run)

// AsManual 手动调度的Run不受Job的enqueue_is_enabled限制
func AsManual() ScheduleNowOptions {
	return func(run *domain.Run) {
		run.IsManual = true
	}
}

// ScheduleNow 立即创建一个计划时间为当前时间的Run，不考虑重新调度策略和排除窗口
func (r *Rescheduler) ScheduleNow(ctx context.Context, job domain.Job, opts ...ScheduleNowOptions) (*domain.Run, error) {
	run := &domain.Run{
		JobID:            job.ID,
		Job:              &job,
		ScheduleID:       uuid.NewString(),
		ScheduleDts:      r.now(),
		ScheduleChildren: true,
	}
	for _, opt := range opts {
		opt(run)
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.metrics.incRunsCreated("schedule_now", 1)
	r.logger.Info("job scheduled now", Int64Field("job", job.ID),
		Int64Field("run", run.ID), BoolField("manual", run.IsManual))
	return run, nil
}
