package domain

import (
	"strconv"
	"time"

	"github.com/TimeWtr/job_runner/const"
)

type Run struct {
	ID    int64
	JobID int64
	Job   *Job
	// WorkerID 为空表示尚未分配，在广播时决定
	WorkerID *int64
	Worker   *Worker
	// ScheduleID 同一批创建的Run共享，例如在所有worker上并行执行时
	ScheduleID  string
	ScheduleDts time.Time
	EnqueueDts  *time.Time
	StartDts    *time.Time
	ReturnDts   *time.Time
	// ReturnSuccess 仅在ReturnDts不为空时有意义
	ReturnSuccess    *bool
	IsManual         bool
	ScheduleChildren bool
}

// GetScheduleID 没有ScheduleID的历史Run使用自身ID
func (r Run) GetScheduleID() string {
	if r.ScheduleID != "" {
		return r.ScheduleID
	}
	return strconv.FormatInt(r.ID, 10)
}

// State 根据时间戳推导当前状态
func (r Run) State() _const.RunState {
	return DeriveState(r.EnqueueDts, r.StartDts, r.ReturnDts, r.ReturnSuccess)
}

// InState 判断是否处于指定状态，RunStateCompleted匹配所有已结束的Run
func (r Run) InState(state _const.RunState) bool {
	current := r.State()
	if state == _const.RunStateCompleted {
		return current == _const.RunStateCompletedSuccessful ||
			current == _const.RunStateCompletedWithError
	}
	return current == state
}

// DeriveState 状态推导，后一阶段的时间戳只有在前一阶段存在时才被考虑
func DeriveState(enqueue, start, ret *time.Time, success *bool) _const.RunState {
	switch {
	case enqueue == nil:
		return _const.RunStateScheduled
	case start == nil:
		return _const.RunStateInQueue
	case ret == nil:
		return _const.RunStateStarted
	case success != nil && *success:
		return _const.RunStateCompletedSuccessful
	default:
		return _const.RunStateCompletedWithError
	}
}

// KillRequest 终止正在执行的Run，ExecuteDts不为空表示worker已确认
type KillRequest struct {
	ID          int64
	RunID       int64
	Run         *Run
	ScheduleDts time.Time
	EnqueueDts  *time.Time
	ExecuteDts  *time.Time
}

// Killable 已请求但未确认，并且Run仍在队列中或执行中
func (k KillRequest) Killable() bool {
	if k.ExecuteDts != nil || k.Run == nil {
		return false
	}
	state := k.Run.State()
	return state == _const.RunStateInQueue || state == _const.RunStateStarted
}
