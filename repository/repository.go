package repository

import (
	"context"
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/TimeWtr/job_runner/repository/dao"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// Repository Job/Run/Worker/KillRequest的持久化，基于gorm实现
// 同时满足重新调度、广播和完成回调所需的存储接口
type Repository struct {
	dao *dao.GormDAO
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{dao: dao.NewGormDAO(db)}
}

func (r *Repository) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	j, err := r.dao.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, wrapErr(err, "get job %d", id)
	}
	job, err := toDomainJob(&j)
	if err != nil {
		return domain.Job{}, err
	}
	return *job, nil
}

func (r *Repository) ListChildJobs(ctx context.Context, parentID int64) ([]domain.Job, error) {
	jobs, err := r.dao.ListChildren(ctx, parentID)
	if err != nil {
		return nil, wrapErr(err, "list children of job %d", parentID)
	}
	res := make([]domain.Job, 0, len(jobs))
	for i := range jobs {
		job, err := toDomainJob(&jobs[i])
		if err != nil {
			return nil, err
		}
		res = append(res, *job)
	}
	return res, nil
}

func (r *Repository) GetRun(ctx context.Context, id int64) (domain.Run, error) {
	run, err := r.dao.GetRun(ctx, id)
	if err != nil {
		return domain.Run{}, wrapErr(err, "get run %d", id)
	}
	return r.run(&run)
}

func (r *Repository) CreateRun(ctx context.Context, run *domain.Run) error {
	m := toDaoRun(*run)
	if err := r.dao.CreateRun(ctx, &m); err != nil {
		return wrapErr(err, "create run for job %d", run.JobID)
	}
	run.ID = m.ID
	return nil
}

func (r *Repository) HasScheduledRun(ctx context.Context, jobID int64) (bool, error) {
	ok, err := r.dao.HasScheduledRun(ctx, jobID)
	if err != nil {
		return false, wrapErr(err, "count scheduled runs of job %d", jobID)
	}
	return ok, nil
}

func (r *Repository) LatestRun(ctx context.Context, jobID int64) (domain.Run, error) {
	run, err := r.dao.LatestRun(ctx, jobID)
	if err != nil {
		return domain.Run{}, wrapErr(err, "latest run of job %d", jobID)
	}
	return r.run(&run)
}

func (r *Repository) LatestCompletedRun(ctx context.Context, jobID int64) (domain.Run, error) {
	run, err := r.dao.LatestCompletedRun(ctx, jobID)
	if err != nil {
		return domain.Run{}, wrapErr(err, "latest completed run of job %d", jobID)
	}
	return r.run(&run)
}

// ListRuns 按计划时间倒序列出Job的Run，state为0时不过滤，limit小于等于0时不限制数量
func (r *Repository) ListRuns(ctx context.Context, jobID int64, state _const.RunState, limit int) ([]domain.Run, error) {
	runs, err := r.dao.ListRuns(ctx, jobID)
	if err != nil {
		return nil, wrapErr(err, "list runs of job %d", jobID)
	}
	res := make([]domain.Run, 0, len(runs))
	for i := range runs {
		run, err := r.run(&runs[i])
		if err != nil {
			return nil, err
		}
		// 状态由时间戳推导，无法在查询中过滤
		if state != 0 && !run.InState(state) {
			continue
		}
		res = append(res, run)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (r *Repository) EnqueueableRuns(ctx context.Context, now time.Time) ([]domain.Run, error) {
	runs, err := r.dao.Enqueueable(ctx, now.UTC())
	if err != nil {
		return nil, wrapErr(err, "list enqueueable runs")
	}
	res := make([]domain.Run, 0, len(runs))
	for i := range runs {
		run, err := r.detachedRun(&runs[i])
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, nil
}

func (r *Repository) MarkRunEnqueued(ctx context.Context, runID, workerID int64, at time.Time) error {
	if err := r.dao.MarkEnqueued(ctx, runID, workerID, at.UTC()); err != nil {
		return wrapErr(err, "mark run %d enqueued", runID)
	}
	return nil
}

func (r *Repository) ForkRun(ctx context.Context, original domain.Run, workers []domain.Worker) ([]domain.Run, error) {
	ids := make([]int64, 0, len(workers))
	for _, w := range workers {
		ids = append(ids, w.ID)
	}

	m := toDaoRun(original)
	m.ScheduleID = original.GetScheduleID()
	forked, err := r.dao.Fork(ctx, m, ids)
	if err != nil {
		return nil, wrapErr(err, "fork run %d", original.ID)
	}

	res := make([]domain.Run, 0, len(forked))
	for i := range forked {
		run, err := r.run(&forked[i])
		if err != nil {
			return nil, err
		}
		run.Job = original.Job
		run.Worker = &workers[i]
		res = append(res, run)
	}
	return res, nil
}

func (r *Repository) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	workers, err := r.dao.ListWorkers(ctx)
	if err != nil {
		return nil, wrapErr(err, "list workers")
	}
	return toDomainWorkers(workers), nil
}

func (r *Repository) EnabledPoolWorkers(ctx context.Context, poolID int64) ([]domain.Worker, error) {
	workers, err := r.dao.EnabledPoolWorkers(ctx, poolID)
	if err != nil {
		return nil, wrapErr(err, "list enabled workers of pool %d", poolID)
	}
	return toDomainWorkers(workers), nil
}

func (r *Repository) KillableRequests(ctx context.Context) ([]domain.KillRequest, error) {
	requests, err := r.dao.Killable(ctx)
	if err != nil {
		return nil, wrapErr(err, "list killable requests")
	}
	res := make([]domain.KillRequest, 0, len(requests))
	for i := range requests {
		kr, err := toDomainKillRequest(&requests[i])
		if err != nil && requests[i].Run != nil {
			// 终止消息只依赖Run的worker
			bare := *requests[i].Run
			bare.Job = nil
			requests[i].Run = &bare
			kr, err = toDomainKillRequest(&requests[i])
		}
		if err != nil {
			return nil, err
		}
		res = append(res, kr)
	}
	return res, nil
}

func (r *Repository) run(m *dao.Run) (domain.Run, error) {
	run, err := toDomainRun(m)
	if err != nil {
		return domain.Run{}, err
	}
	return *run, nil
}

// detachedRun 所属Job无法转换时返回不带Job的Run，
// 单个配置错误的Job不能阻塞其它Run的广播
func (r *Repository) detachedRun(m *dao.Run) (domain.Run, error) {
	run, err := r.run(m)
	if err == nil || m.Job == nil {
		return run, err
	}
	bare := *m
	bare.Job = nil
	return r.run(&bare)
}

// wrapErr 统一把记录不存在转换为domain.ErrNotFound
func wrapErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, dao.ErrRunGone) {
		return errors.Wrapf(domain.ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
