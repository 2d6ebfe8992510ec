package _const

import "time"

const (
	// DefaultRoutingPrefix worker订阅的广播前缀，完整路由为前缀加worker的api_key
	DefaultRoutingPrefix = "master.broadcast."
	// DefaultPollInterval 扫描待投递Run的周期
	DefaultPollInterval = 5 * time.Second
	// DefaultPingInterval 心跳周期
	DefaultPingInterval = 60 * time.Second
	// DefaultWarmup 启动后等待订阅者重连的时间
	DefaultWarmup = 2 * time.Second
	// DefaultMaxExcludeIterations 单次重新调度中排除窗口平移的最大次数
	DefaultMaxExcludeIterations = 1000
	// DefaultMaxPastIterations 单次重新调度中过去时间保护的最大递增次数
	DefaultMaxPastIterations = 1000000
	// DefaultLeaseTTL 广播进程租约有效期
	DefaultLeaseTTL = 30 * time.Second
	// DefaultStoreTimeout 每次存储调用的超时时间
	DefaultStoreTimeout = 5 * time.Second
)
