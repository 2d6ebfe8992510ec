package dao

import "time"

type Project struct {
	ID                    int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title                 string `gorm:"column:title;type:varchar(255);not null" json:"title"`
	NotificationAddresses string `gorm:"column:notification_addresses;type:text" json:"notification_addresses"`
}

func (Project) TableName() string { return "projects" }

type Worker struct {
	ID                    int64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title                 string   `gorm:"column:title;type:varchar(255);not null" json:"title"`
	APIKey                string   `gorm:"column:api_key;type:varchar(255);uniqueIndex;not null" json:"api_key"`
	EnqueueIsEnabled      bool     `gorm:"column:enqueue_is_enabled;not null" json:"enqueue_is_enabled"`
	ProjectID             int64    `gorm:"column:project_id;index;not null" json:"project_id"`
	Project               *Project `gorm:"foreignKey:ProjectID" json:"-"`
	NotificationAddresses string   `gorm:"column:notification_addresses;type:text" json:"notification_addresses"`
}

func (Worker) TableName() string { return "workers" }

type WorkerPool struct {
	ID      int64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title   string   `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Workers []Worker `gorm:"many2many:worker_pool_workers;" json:"-"`
}

func (WorkerPool) TableName() string { return "worker_pools" }

type JobTemplate struct {
	ID                    int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title                 string  `gorm:"column:title;type:varchar(255);not null" json:"title"`
	WorkerID              int64   `gorm:"column:worker_id;index;not null" json:"worker_id"`
	Worker                *Worker `gorm:"foreignKey:WorkerID" json:"-"`
	NotificationAddresses string  `gorm:"column:notification_addresses;type:text" json:"notification_addresses"`
}

func (JobTemplate) TableName() string { return "job_templates" }

type Job struct {
	ID            int64        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title         string       `gorm:"column:title;type:varchar(255);not null" json:"title"`
	ScriptContent string       `gorm:"column:script_content;type:text" json:"script_content"`
	JobTemplateID int64        `gorm:"column:job_template_id;index;not null" json:"job_template_id"`
	JobTemplate   *JobTemplate `gorm:"foreignKey:JobTemplateID" json:"-"`
	WorkerPoolID  int64        `gorm:"column:worker_pool_id;index;not null" json:"worker_pool_id"`
	// EnqueueIsEnabled 关闭后只投递手动调度的Run
	EnqueueIsEnabled bool `gorm:"column:enqueue_is_enabled;not null" json:"enqueue_is_enabled"`
	RunOnAllWorkers  bool `gorm:"column:run_on_all_workers;not null" json:"run_on_all_workers"`
	// RescheduleType AFTER_SCHEDULE_DTS / AFTER_COMPLETE_DTS / NONE
	RescheduleType string `gorm:"column:reschedule_type;type:varchar(32);not null" json:"reschedule_type"`
	// RescheduleIntervalType MINUTE / HOUR / DAY / WEEK / MONTH
	RescheduleIntervalType string              `gorm:"column:reschedule_interval_type;type:varchar(16);not null" json:"reschedule_interval_type"`
	RescheduleInterval     int                 `gorm:"column:reschedule_interval;not null" json:"reschedule_interval"`
	ParentID               *int64              `gorm:"column:parent_id;index" json:"parent_id"`
	NotificationAddresses  string              `gorm:"column:notification_addresses;type:text" json:"notification_addresses"`
	Excludes               []RescheduleExclude `gorm:"foreignKey:JobID" json:"-"`
}

func (Job) TableName() string { return "jobs" }

type RescheduleExclude struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID int64  `gorm:"column:job_id;index;not null" json:"job_id"`
	Note  string `gorm:"column:note;type:varchar(255)" json:"note"`
	// StartTime EndTime 格式为 15:04:05
	StartTime string `gorm:"column:start_time;type:varchar(8);not null" json:"start_time"`
	EndTime   string `gorm:"column:end_time;type:varchar(8);not null" json:"end_time"`
}

func (RescheduleExclude) TableName() string { return "reschedule_excludes" }

type Run struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID    int64   `gorm:"column:job_id;index;not null" json:"job_id"`
	Job      *Job    `gorm:"foreignKey:JobID" json:"-"`
	WorkerID *int64  `gorm:"column:worker_id;index" json:"worker_id"`
	Worker   *Worker `gorm:"foreignKey:WorkerID" json:"-"`
	// ScheduleID 同一批创建的Run共享
	ScheduleID    string     `gorm:"column:schedule_id;type:varchar(64);index" json:"schedule_id"`
	ScheduleDts   time.Time  `gorm:"column:schedule_dts;not null;index" json:"schedule_dts"`
	EnqueueDts    *time.Time `gorm:"column:enqueue_dts;index" json:"enqueue_dts"`
	StartDts      *time.Time `gorm:"column:start_dts" json:"start_dts"`
	ReturnDts     *time.Time `gorm:"column:return_dts" json:"return_dts"`
	ReturnSuccess *bool      `gorm:"column:return_success" json:"return_success"`
	IsManual      bool       `gorm:"column:is_manual;not null" json:"is_manual"`
	// ScheduleChildren 仅随Run保存和复制，子Job在成功后总是被调度
	ScheduleChildren bool `gorm:"column:schedule_children;not null;default:true" json:"schedule_children"`
}

func (Run) TableName() string { return "runs" }

type KillRequest struct {
	ID    int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RunID int64 `gorm:"column:run_id;index;not null" json:"run_id"`
	Run   *Run  `gorm:"foreignKey:RunID" json:"-"`
	// ScheduleDts 请求创建时间
	ScheduleDts time.Time  `gorm:"column:schedule_dts;not null" json:"schedule_dts"`
	EnqueueDts  *time.Time `gorm:"column:enqueue_dts" json:"enqueue_dts"`
	// ExecuteDts worker确认终止的时间
	ExecuteDts *time.Time `gorm:"column:execute_dts" json:"execute_dts"`
}

func (KillRequest) TableName() string { return "kill_requests" }

// Models 需要迁移的全部模型
func Models() []any {
	return []any{
		&Project{},
		&Worker{},
		&WorkerPool{},
		&JobTemplate{},
		&Job{},
		&RescheduleExclude{},
		&Run{},
		&KillRequest{},
	}
}
