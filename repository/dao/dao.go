package dao

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRunGone 需要拆分的Run已经被删除
var ErrRunGone = errors.New("run no longer exists")

type JobDAO interface {
	// GetJob 查询Job，同时加载排除窗口和通知地址链
	GetJob(ctx context.Context, id int64) (Job, error)
	// ListChildren 查询子Job
	ListChildren(ctx context.Context, parentID int64) ([]Job, error)
}

type RunDAO interface {
	GetRun(ctx context.Context, id int64) (Run, error)
	CreateRun(ctx context.Context, run *Run) error
	// HasScheduledRun 是否存在尚未投递的Run
	HasScheduledRun(ctx context.Context, jobID int64) (bool, error)
	// LatestRun 按计划时间取最近的一次Run
	LatestRun(ctx context.Context, jobID int64) (Run, error)
	// LatestCompletedRun 按完成时间取最近完成的一次Run
	LatestCompletedRun(ctx context.Context, jobID int64) (Run, error)
	// ListRuns Job的全部Run，按计划时间倒序
	ListRuns(ctx context.Context, jobID int64) ([]Run, error)
	// Enqueueable 到期且未投递的Run
	Enqueueable(ctx context.Context, now time.Time) ([]Run, error)
	// MarkEnqueued 投递成功后记录worker和投递时间
	MarkEnqueued(ctx context.Context, runID, workerID int64, at time.Time) error
	// Fork 在一个事务中为每个worker复制Run并删除原始Run
	Fork(ctx context.Context, original Run, workerIDs []int64) ([]Run, error)
}

type WorkerDAO interface {
	ListWorkers(ctx context.Context) ([]Worker, error)
	// EnabledPoolWorkers 池中允许分配的worker
	EnabledPoolWorkers(ctx context.Context, poolID int64) ([]Worker, error)
}

type KillRequestDAO interface {
	// Killable 已请求但未确认，且Run处于队列中或执行中
	Killable(ctx context.Context) ([]KillRequest, error)
}

// GormDAO 基于gorm的实现
type GormDAO struct {
	db *gorm.DB
}

func NewGormDAO(db *gorm.DB) *GormDAO {
	return &GormDAO{db: db}
}

func (d *GormDAO) GetJob(ctx context.Context, id int64) (Job, error) {
	var job Job
	err := d.db.WithContext(ctx).
		Preload("Excludes", func(db *gorm.DB) *gorm.DB {
			return db.Order("reschedule_excludes.id")
		}).
		Preload("JobTemplate.Worker.Project").
		First(&job, id).Error
	return job, err
}

func (d *GormDAO) ListChildren(ctx context.Context, parentID int64) ([]Job, error) {
	var jobs []Job
	err := d.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("id").
		Find(&jobs).Error
	return jobs, err
}

func (d *GormDAO) GetRun(ctx context.Context, id int64) (Run, error) {
	var run Run
	err := d.db.WithContext(ctx).
		Preload("Job").
		Preload("Worker").
		First(&run, id).Error
	return run, err
}

func (d *GormDAO) CreateRun(ctx context.Context, run *Run) error {
	return d.db.WithContext(ctx).Omit(clause.Associations).Create(run).Error
}

func (d *GormDAO) HasScheduledRun(ctx context.Context, jobID int64) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&Run{}).
		Where("job_id = ? AND enqueue_dts IS NULL", jobID).
		Count(&count).Error
	return count > 0, err
}

func (d *GormDAO) LatestRun(ctx context.Context, jobID int64) (Run, error) {
	var run Run
	err := d.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("schedule_dts DESC").Order("id DESC").
		First(&run).Error
	return run, err
}

func (d *GormDAO) LatestCompletedRun(ctx context.Context, jobID int64) (Run, error) {
	var run Run
	err := d.db.WithContext(ctx).
		Where("job_id = ? AND return_dts IS NOT NULL", jobID).
		Order("return_dts DESC").Order("id DESC").
		First(&run).Error
	return run, err
}

func (d *GormDAO) ListRuns(ctx context.Context, jobID int64) ([]Run, error) {
	var runs []Run
	err := d.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Preload("Worker").
		Order("schedule_dts DESC").Order("id DESC").
		Find(&runs).Error
	return runs, err
}

func (d *GormDAO) Enqueueable(ctx context.Context, now time.Time) ([]Run, error) {
	var runs []Run
	err := d.db.WithContext(ctx).
		Joins("JOIN jobs ON jobs.id = runs.job_id").
		Where("runs.enqueue_dts IS NULL AND runs.schedule_dts <= ?", now).
		Where("(jobs.enqueue_is_enabled = ? OR runs.is_manual = ?)", true, true).
		Preload("Job").
		Preload("Worker").
		Order("runs.schedule_dts").Order("runs.id").
		Find(&runs).Error
	return runs, err
}

func (d *GormDAO) MarkEnqueued(ctx context.Context, runID, workerID int64, at time.Time) error {
	res := d.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND enqueue_dts IS NULL", runID).
		Updates(map[string]interface{}{
			"worker_id":   workerID,
			"enqueue_dts": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunGone
	}
	return nil
}

func (d *GormDAO) Fork(ctx context.Context, original Run, workerIDs []int64) ([]Run, error) {
	runs := make([]Run, 0, len(workerIDs))
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, workerID := range workerIDs {
			wid := workerID
			run := Run{
				JobID:       original.JobID,
				WorkerID:    &wid,
				ScheduleID:  original.ScheduleID,
				ScheduleDts: original.ScheduleDts,
				IsManual:    original.IsManual,

				ScheduleChildren: original.ScheduleChildren,
			}
			if err := tx.Omit(clause.Associations).Create(&run).Error; err != nil {
				return err
			}
			runs = append(runs, run)
		}

		// 原始Run已经被拆分到每个worker，删除失败时整体回滚
		res := tx.Where("id = ? AND enqueue_dts IS NULL", original.ID).Delete(&Run{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunGone
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (d *GormDAO) ListWorkers(ctx context.Context) ([]Worker, error) {
	var workers []Worker
	err := d.db.WithContext(ctx).Order("id").Find(&workers).Error
	return workers, err
}

func (d *GormDAO) EnabledPoolWorkers(ctx context.Context, poolID int64) ([]Worker, error) {
	var workers []Worker
	err := d.db.WithContext(ctx).
		Joins("JOIN worker_pool_workers ON worker_pool_workers.worker_id = workers.id").
		Where("worker_pool_workers.worker_pool_id = ? AND workers.enqueue_is_enabled = ?", poolID, true).
		Order("workers.id").
		Find(&workers).Error
	return workers, err
}

func (d *GormDAO) Killable(ctx context.Context) ([]KillRequest, error) {
	var requests []KillRequest
	err := d.db.WithContext(ctx).
		Joins("JOIN runs ON runs.id = kill_requests.run_id").
		Where("kill_requests.execute_dts IS NULL").
		Where("runs.enqueue_dts IS NOT NULL AND runs.return_dts IS NULL").
		Preload("Run.Worker").
		Order("kill_requests.id").
		Find(&requests).Error
	return requests, err
}

// Migrate 创建或更新全部表结构
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(Models()...)
}
