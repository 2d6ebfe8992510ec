package _const

import "strings"

// RunState Run的生命周期状态，由时间戳推导，不做持久化
type RunState int

const (
	RunStateScheduled           RunState = 0x00000001 // 等待投递
	RunStateInQueue             RunState = 0x00000002 // 已投递到worker队列
	RunStateStarted             RunState = 0x00000003 // worker已开始执行
	RunStateCompletedSuccessful RunState = 0x00000004 // 执行成功
	RunStateCompletedWithError  RunState = 0x00000005 // 执行失败
	RunStateCompleted           RunState = 0x00000006 // 执行结束，不区分成功与否，仅用于过滤
)

func (s RunState) String() string {
	switch s {
	case RunStateScheduled:
		return "scheduled"
	case RunStateInQueue:
		return "in_queue"
	case RunStateStarted:
		return "started"
	case RunStateCompletedSuccessful:
		return "completed_successful"
	case RunStateCompletedWithError:
		return "completed_with_error"
	case RunStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseRunState 解析状态过滤条件，未知的状态返回false
func ParseRunState(s string) (RunState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduled":
		return RunStateScheduled, true
	case "in_queue":
		return RunStateInQueue, true
	case "started":
		return RunStateStarted, true
	case "completed":
		return RunStateCompleted, true
	case "completed_successful":
		return RunStateCompletedSuccessful, true
	case "completed_with_error":
		return RunStateCompletedWithError, true
	default:
		return 0, false
	}
}
