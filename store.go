package job_runner

import (
	"context"
	"time"

	"github.com/TimeWtr/job_runner/domain"
)

// RescheduleStore 重新调度需要的存储操作
type RescheduleStore interface {
	// GetJob 返回的Job需要包含排除窗口和完整的通知地址链
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	HasScheduledRun(ctx context.Context, jobID int64) (bool, error)
	LatestRun(ctx context.Context, jobID int64) (domain.Run, error)
	LatestCompletedRun(ctx context.Context, jobID int64) (domain.Run, error)
	CreateRun(ctx context.Context, run *domain.Run) error
}

// CompletionStore Run更新回调需要的存储操作
type CompletionStore interface {
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	GetRun(ctx context.Context, id int64) (domain.Run, error)
	ListChildJobs(ctx context.Context, parentID int64) ([]domain.Job, error)
}

// DispatchStore 广播需要的存储操作
type DispatchStore interface {
	// EnqueueableRuns 返回的Run需要包含Job，已分配时包含Worker
	EnqueueableRuns(ctx context.Context, now time.Time) ([]domain.Run, error)
	// KillableRequests 返回的请求需要包含Run及其Worker
	KillableRequests(ctx context.Context) ([]domain.KillRequest, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)
	EnabledPoolWorkers(ctx context.Context, poolID int64) ([]domain.Worker, error)
	// ForkRun 为每个worker复制一个Run并删除原始Run，需要保证原子性
	ForkRun(ctx context.Context, original domain.Run, workers []domain.Worker) ([]domain.Run, error)
	MarkRunEnqueued(ctx context.Context, runID, workerID int64, at time.Time) error
}
