package job_runner

import (
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
)

// AddInterval 在base上增加count个单位的时间
// 分钟、小时、天、周为固定时长；月按日历计算，目标月份没有对应日期时取该月最后一天
func AddInterval(base time.Time, unit _const.IntervalType, count int) (time.Time, error) {
	switch unit {
	case _const.IntervalMinute:
		return base.Add(time.Duration(count) * time.Minute), nil
	case _const.IntervalHour:
		return base.Add(time.Duration(count) * time.Hour), nil
	case _const.IntervalDay:
		return base.Add(time.Duration(count) * 24 * time.Hour), nil
	case _const.IntervalWeek:
		return base.Add(time.Duration(count) * 7 * 24 * time.Hour), nil
	case _const.IntervalMonth:
		return addMonths(base, count), nil
	default:
		return time.Time{}, errors.Wrapf(_const.ErrUnknownIntervalType, "%d", int(unit))
	}
}

func addMonths(base time.Time, count int) time.Time {
	y, m, d := base.Date()
	hour, minute, sec := base.Clock()

	// 先定位到目标月份的第一天，避免time.Date对溢出日期的自动进位
	first := time.Date(y, m+time.Month(count), 1, 0, 0, 0, 0, base.Location())
	if last := daysIn(first.Year(), first.Month(), base.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hour, minute, sec, base.Nanosecond(), base.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// InExcludeWindow 返回第一个包含dts时刻的排除窗口
func InExcludeWindow(dts time.Time, windows []domain.RescheduleExclude) (domain.RescheduleExclude, bool) {
	for _, w := range windows {
		if w.Contains(dts) {
			return w, true
		}
	}
	return domain.RescheduleExclude{}, false
}
