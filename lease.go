package job_runner

import (
	"context"
	"sync"
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

var (
	ErrLeaseHeld = errors.New("broadcast lease held by another instance")
	ErrLeaseLost = errors.New("broadcast lease lost")
)

// Lease 广播进程的单实例租约
type Lease interface {
	// TryAcquire 尝试抢占一次
	TryAcquire(ctx context.Context) error
	// Acquire 抢占失败会按照策略进行重试
	Acquire(ctx context.Context, strategy ScheduleStrategy) error
	// AutoRefresh 定期续约，续约失败或租约被抢占时返回错误
	AutoRefresh(ctx context.Context) error
	// Release 释放租约
	Release() error
}

type DispatcherLease struct {
	// Name 租约名称，同一个名称只允许一个持有者
	Name string `gorm:"column:name;type:varchar(64);primaryKey" json:"name"`
	// Holder 持有者标识
	Holder string `gorm:"column:holder;type:varchar(255);not null" json:"holder"`
	// Epoch 乐观锁，每次抢占成功加一
	Epoch int `gorm:"column:epoch;type:int;not null" json:"epoch"`
	// ExpiresAt 过期时间
	ExpiresAt int64 `gorm:"column:expires_at;not null" json:"expires_at"`
	// UpdatedTime 更新时间
	UpdatedTime int64 `gorm:"column:updated_time;not null" json:"updated_time"`
}

func (DispatcherLease) TableName() string { return "dispatcher_leases" }

type LeaseOptions func(l *DBLease)

func WithLeaseTTL(ttl time.Duration) LeaseOptions {
	return func(l *DBLease) {
		l.ttl = ttl
	}
}

func WithLeaseClock(now func() time.Time) LeaseOptions {
	return func(l *DBLease) {
		l.now = now
	}
}

type DBLease struct {
	db     *gorm.DB
	name   string
	holder string
	ttl    time.Duration
	now    func() time.Time
	// 当前持有的版本
	epoch int
	// 关闭通道
	closeCh chan struct{}
	once    *sync.Once
}

func NewDBLease(db *gorm.DB, name, holder string, opts ...LeaseOptions) *DBLease {
	l := &DBLease{
		db:      db,
		name:    name,
		holder:  holder,
		ttl:     _const.DefaultLeaseTTL,
		now:     time.Now,
		closeCh: make(chan struct{}),
		once:    &sync.Once{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MigrateLease 创建租约表
func MigrateLease(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&DispatcherLease{})
}

func (l *DBLease) TryAcquire(ctx context.Context) error {
	now := l.now()
	var lease DispatcherLease
	err := l.db.WithContext(ctx).Where("name = ?", l.name).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lease = DispatcherLease{
			Name:        l.name,
			Holder:      l.holder,
			Epoch:       1,
			ExpiresAt:   now.Add(l.ttl).Unix(),
			UpdatedTime: now.Unix(),
		}
		if err = l.db.WithContext(ctx).Create(&lease).Error; err != nil {
			// 其他实例同时创建了租约
			return errors.Wrap(ErrLeaseHeld, err.Error())
		}
		l.epoch = lease.Epoch
		return nil
	}
	if err != nil {
		return err
	}

	if lease.Holder != l.holder && lease.ExpiresAt > now.Unix() {
		return ErrLeaseHeld
	}

	res := l.db.WithContext(ctx).Model(&DispatcherLease{}).
		Where("name = ? AND epoch = ?", l.name, lease.Epoch).
		Updates(map[string]interface{}{
			"holder":       l.holder,
			"epoch":        lease.Epoch + 1,
			"expires_at":   now.Add(l.ttl).Unix(),
			"updated_time": now.Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 抢占失败
		return ErrLeaseHeld
	}

	l.epoch = lease.Epoch + 1
	return nil
}

func (l *DBLease) Acquire(ctx context.Context, strategy ScheduleStrategy) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		lctx, cancel := context.WithTimeout(ctx, time.Second)
		err := l.TryAcquire(lctx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLeaseHeld) {
			return err
		}

		interval, serr := strategy.Next()
		if serr != nil {
			return err
		}

		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			// 等待下一次抢占
		}
	}
}

// Refresh 续约条件：
// 1. 名称和持有者一致
// 2. 版本为当前版本
func (l *DBLease) Refresh(ctx context.Context) error {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&DispatcherLease{}).
		Where("name = ? AND holder = ? AND epoch = ?", l.name, l.holder, l.epoch).
		Updates(map[string]interface{}{
			"expires_at":   now.Add(l.ttl).Unix(),
			"updated_time": now.Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *DBLease) AutoRefresh(ctx context.Context) error {
	ticker := time.NewTicker(l.refreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closeCh:
			// 主动停止续约
			return nil
		case <-ticker.C:
			lctx, cancel := context.WithTimeout(ctx, time.Second)
			err := l.Refresh(lctx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				// 超时导致续约失败，立刻重试一次
				err = l.Refresh(ctx)
			}
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (l *DBLease) Release() error {
	l.once.Do(func() {
		close(l.closeCh)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return l.db.WithContext(ctx).Model(&DispatcherLease{}).
		Where("name = ? AND holder = ? AND epoch = ?", l.name, l.holder, l.epoch).
		Updates(map[string]interface{}{
			"expires_at":   int64(0),
			"updated_time": l.now().Unix(),
		}).Error
}

// refreshInterval 在租约过期前续约三次
func (l *DBLease) refreshInterval() time.Duration {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}
