package _const

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrUnknownRescheduleType = errors.New("unknown reschedule type")

// RescheduleType 重新调度策略
type RescheduleType int

const (
	RescheduleNone             RescheduleType = 0x00000001 // 不重新调度
	RescheduleAfterScheduleDts RescheduleType = 0x00000002 // 以上次计划时间为基准
	RescheduleAfterCompleteDts RescheduleType = 0x00000003 // 以上次完成时间为基准
)

func (r RescheduleType) String() string {
	switch r {
	case RescheduleNone:
		return "NONE"
	case RescheduleAfterScheduleDts:
		return "AFTER_SCHEDULE_DTS"
	case RescheduleAfterCompleteDts:
		return "AFTER_COMPLETE_DTS"
	default:
		return "UNKNOWN"
	}
}

func ParseRescheduleType(s string) (RescheduleType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return RescheduleNone, nil
	case "AFTER_SCHEDULE_DTS":
		return RescheduleAfterScheduleDts, nil
	case "AFTER_COMPLETE_DTS":
		return RescheduleAfterCompleteDts, nil
	default:
		return 0, errors.Wrapf(ErrUnknownRescheduleType, "%q", s)
	}
}
