package job_runner

import (
	"math/rand"
	"time"

	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
)

var ErrOverMaxCount = errors.New("over max count")

// ScheduleStrategy 租约抢占失败后的重试策略
type ScheduleStrategy interface {
	Next() (time.Duration, error)
}

type FixedScheduleStrategy struct {
	// 固定时间间隔
	interval time.Duration
	// 最大调度次数
	maxCount int
	// 当前已经调度的次数
	counter int
}

func NewFixedScheduleStrategy(interval time.Duration, maxCount int) *FixedScheduleStrategy {
	return &FixedScheduleStrategy{
		interval: interval,
		maxCount: maxCount,
	}
}

func (s *FixedScheduleStrategy) Next() (time.Duration, error) {
	if s.counter >= s.maxCount {
		return 0, ErrOverMaxCount
	}
	s.counter++
	return s.interval, nil
}

// iterationLimit 重新调度计算的迭代上限
type iterationLimit struct {
	max     int
	counter int
}

func newIterationLimit(max int) *iterationLimit {
	return &iterationLimit{max: max}
}

func (l *iterationLimit) Next() error {
	if l.counter >= l.max {
		return ErrOverMaxCount
	}
	l.counter++
	return nil
}

// WorkerSelector 单worker投递时的选择策略，workers保证非空
type WorkerSelector interface {
	Pick(workers []domain.Worker) domain.Worker
}

// RandomSelector 均匀随机选择
type RandomSelector struct{}

func (RandomSelector) Pick(workers []domain.Worker) domain.Worker {
	return workers[rand.Intn(len(workers))]
}

// FirstSelector 总是选择第一个，结果可预测
type FirstSelector struct{}

func (FirstSelector) Pick(workers []domain.Worker) domain.Worker {
	return workers[0]
}

// SelectorFunc 函数适配器
type SelectorFunc func(workers []domain.Worker) domain.Worker

func (f SelectorFunc) Pick(workers []domain.Worker) domain.Worker {
	return f(workers)
}
