package _const

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrUnknownIntervalType = errors.New("unknown reschedule interval type")

// IntervalType 重新调度的间隔单位
type IntervalType int

const (
	IntervalMinute IntervalType = 0x00000001
	IntervalHour   IntervalType = 0x00000002
	IntervalDay    IntervalType = 0x00000003
	IntervalWeek   IntervalType = 0x00000004
	IntervalMonth  IntervalType = 0x00000005
)

func (i IntervalType) String() string {
	switch i {
	case IntervalMinute:
		return "MINUTE"
	case IntervalHour:
		return "HOUR"
	case IntervalDay:
		return "DAY"
	case IntervalWeek:
		return "WEEK"
	case IntervalMonth:
		return "MONTH"
	default:
		return "UNKNOWN"
	}
}

func ParseIntervalType(s string) (IntervalType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MINUTE":
		return IntervalMinute, nil
	case "HOUR":
		return IntervalHour, nil
	case "DAY":
		return IntervalDay, nil
	case "WEEK":
		return IntervalWeek, nil
	case "MONTH":
		return IntervalMonth, nil
	default:
		return 0, errors.Wrapf(ErrUnknownIntervalType, "%q", s)
	}
}
