package job_runner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// RunUpdate 控制面对Run的一次更新中与完成相关的字段
type RunUpdate struct {
	ReturnDts     *time.Time
	ReturnSuccess *bool
}

// Returned 本次更新是否标记了Run的完成
func (u RunUpdate) Returned() bool {
	return u.ReturnDts != nil
}

// CompletionHandler 控制面更新Run之后的回调
type CompletionHandler struct {
	store       CompletionStore
	rescheduler *Rescheduler
	notifier    Notifier
	logger      Logger
}

func NewCompletionHandler(store CompletionStore, rescheduler *Rescheduler,
	notifier Notifier, logger Logger) *CompletionHandler {
	return &CompletionHandler{
		store:       store,
		rescheduler: rescheduler,
		notifier:    notifier,
		logger:      logger,
	}
}

// AfterRunUpdate 在Run更新成功后调用
// 1. 每次更新都尝试重新调度所属Job，Reschedule本身是幂等的
// 2. 标记为失败时发送错误通知
// 3. 标记为成功时立即调度所有子Job
func (h *CompletionHandler) AfterRunUpdate(ctx context.Context, runID int64, update RunUpdate) error {
	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if _, err = h.rescheduler.Reschedule(ctx, run.JobID); err != nil {
		return errors.Wrapf(err, "reschedule job %d", run.JobID)
	}

	if !update.Returned() || update.ReturnSuccess == nil {
		return nil
	}

	if !*update.ReturnSuccess {
		job, err := h.store.GetJob(ctx, run.JobID)
		if err != nil {
			return err
		}
		if err = h.notifier.Notify(ctx, runErrorNotification(job, run)); err != nil {
			// 通知失败不影响控制面的更新
			h.logger.Error("failed to send run error notification",
				Int64Field("run", run.ID), ErrField(err))
		}
		return nil
	}

	children, err := h.store.ListChildJobs(ctx, run.JobID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if _, err = h.rescheduler.ScheduleNow(ctx, child); err != nil {
			return errors.Wrapf(err, "schedule child job %d", child.ID)
		}
	}
	return nil
}
