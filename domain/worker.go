package domain

type Project struct {
	ID                    int64
	Title                 string
	NotificationAddresses []string
}

type Worker struct {
	ID    int64
	Title string
	// APIKey 广播的路由键，同时也是worker的认证凭据
	APIKey string
	// EnqueueIsEnabled 关闭后不会再分配新的Run
	EnqueueIsEnabled      bool
	ProjectID             int64
	Project               *Project
	NotificationAddresses []string
}
