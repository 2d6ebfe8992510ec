package job_runner

// broadcastLedger 单次广播周期内已投递的Job及其ScheduleID
// 只在一个周期内使用，周期结束后丢弃
type broadcastLedger struct {
	mp map[int64]string
}

func newBroadcastLedger(size int) *broadcastLedger {
	return &broadcastLedger{
		mp: make(map[int64]string, size),
	}
}

// Allow 条件：
// 1. 本周期内该Job还没有投递过
// 2. 已经投递过，但ScheduleID相同，说明需要并行执行
func (l *broadcastLedger) Allow(jobID int64, scheduleID string) bool {
	v, ok := l.mp[jobID]
	return !ok || v == scheduleID
}

func (l *broadcastLedger) Mark(jobID int64, scheduleID string) {
	l.mp[jobID] = scheduleID
}
