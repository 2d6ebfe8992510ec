package _const

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Parser 定时时间解析器，广播周期和心跳周期都使用@every描述符
var Parser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule 解析周期描述，支持标准cron表达式和描述符
func ParseSchedule(spec string) (cron.Schedule, error) {
	return Parser.Parse(spec)
}

// EverySchedule 固定间隔的周期
func EverySchedule(interval time.Duration) cron.Schedule {
	return cron.Every(interval)
}
