package _const

// Action 广播消息的动作类型
type Action string

const (
	ActionEnqueue Action = "enqueue"
	ActionKill    Action = "kill"
	ActionPing    Action = "ping"
)

func (a Action) String() string {
	return string(a)
}
