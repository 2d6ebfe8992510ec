package domain

import (
	"github.com/TimeWtr/job_runner/const"
)

type Job struct {
	// ID 在数据库中的ID信息
	ID int64
	// Title Job名称，用于通知邮件
	Title string
	// ScriptContent 由worker执行的脚本
	ScriptContent string
	// TemplateID 所属模板
	TemplateID int64
	// Template 所属模板，通知地址链的上一级
	Template *JobTemplate
	// WorkerPoolID 可执行该Job的worker池
	WorkerPoolID int64
	// EnqueueIsEnabled 关闭后仅手动调度的Run会被投递
	EnqueueIsEnabled bool
	// RunOnAllWorkers 是否在池中所有worker上并行执行
	RunOnAllWorkers bool
	// RescheduleType 重新调度策略
	RescheduleType _const.RescheduleType
	// RescheduleIntervalType 重新调度间隔单位
	RescheduleIntervalType _const.IntervalType
	// RescheduleInterval 间隔单位的倍数
	RescheduleInterval int
	// ParentID 父Job，父Job成功后会立即调度子Job
	ParentID *int64
	// Excludes 不允许开始执行的每日时间窗口
	Excludes []RescheduleExclude
	// NotificationAddresses 本级配置的通知地址
	NotificationAddresses []string
}

// Reschedulable 判断是否需要重新调度
func (j Job) Reschedulable() bool {
	return j.RescheduleType == _const.RescheduleAfterScheduleDts ||
		j.RescheduleType == _const.RescheduleAfterCompleteDts
}

type JobTemplate struct {
	ID                    int64
	Title                 string
	WorkerID              int64
	Worker                *Worker
	NotificationAddresses []string
}
