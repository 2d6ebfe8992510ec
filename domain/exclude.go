package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

const day = 24 * time.Hour

// TimeOfDay 距离零点的偏移，与日期无关
type TimeOfDay time.Duration

func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second)
}

// TimeOfDayOf 取出时间在其自身时区中的时刻
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return NewTimeOfDay(h, m, s) + TimeOfDay(t.Nanosecond())
}

// ParseTimeOfDay 支持 15:04 和 15:04:05 两种格式
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, errors.Newf("invalid time of day %q", s)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second))
}

// RescheduleExclude 每日重复的排除窗口 [StartTime, EndTime)
// StartTime大于EndTime时窗口跨越零点
type RescheduleExclude struct {
	ID        int64
	JobID     int64
	Note      string
	StartTime TimeOfDay
	EndTime   TimeOfDay
}

// Contains 判断时间的时刻部分是否落在窗口内
func (e RescheduleExclude) Contains(t time.Time) bool {
	tod := TimeOfDayOf(t)
	switch {
	case e.StartTime < e.EndTime:
		return tod >= e.StartTime && tod < e.EndTime
	case e.StartTime > e.EndTime:
		return tod >= e.StartTime || tod < e.EndTime
	default:
		return false
	}
}

// Duration 窗口长度，平移候选时间时使用
func (e RescheduleExclude) Duration() time.Duration {
	if e.StartTime > e.EndTime {
		return time.Duration(e.EndTime) + day - time.Duration(e.StartTime)
	}
	return time.Duration(e.EndTime - e.StartTime)
}
