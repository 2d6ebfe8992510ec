package job_runner

import (
	"context"
	stderrors "errors"
	"time"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/domain"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	stagePing = "ping"
	stageRuns = "runs"
	stageKill = "kill"
)

// Broadcaster 广播进程
// 同一个存储上只允许运行一个实例，多实例部署时需要通过WithLease开启租约
type Broadcaster interface {
	// Broadcast 开启广播循环，直到ctx取消或者租约丢失
	Broadcast(ctx context.Context) error
	// Tick 执行一次广播周期：心跳、Run投递、终止请求
	Tick(ctx context.Context) error
}

type Options func(core *DispatcherCore)

// WithSelector 单worker投递时的选择策略，默认随机
func WithSelector(selector WorkerSelector) Options {
	return func(c *DispatcherCore) {
		c.selector = selector
	}
}

func WithRoutingPrefix(prefix string) Options {
	return func(c *DispatcherCore) {
		c.prefix = prefix
	}
}

// WithPollSchedule 扫描周期
func WithPollSchedule(schedule cron.Schedule) Options {
	return func(c *DispatcherCore) {
		c.poll = schedule
	}
}

// WithPingSchedule 心跳周期，应当长于扫描周期
func WithPingSchedule(schedule cron.Schedule) Options {
	return func(c *DispatcherCore) {
		c.ping = schedule
	}
}

func WithClock(now func() time.Time) Options {
	return func(c *DispatcherCore) {
		c.now = now
	}
}

// WithWarmup 第一次广播前等待订阅者重新连接
func WithWarmup(d time.Duration) Options {
	return func(c *DispatcherCore) {
		c.warmup = d
	}
}

// WithLease 开启单实例租约，抢占失败时按照retry重试
func WithLease(lease Lease, retry ScheduleStrategy) Options {
	return func(c *DispatcherCore) {
		c.lease = lease
		c.leaseRetry = retry
	}
}

func WithMetrics(m *Metrics) Options {
	return func(c *DispatcherCore) {
		c.metrics = m
	}
}

// WithStoreTimeout 每次存储调用和发布的超时时间
func WithStoreTimeout(d time.Duration) Options {
	return func(c *DispatcherCore) {
		c.timeout = d
	}
}

type DispatcherCore struct {
	logger    Logger
	store     DispatchStore
	publisher Publisher
	// 单worker投递的选择策略
	selector WorkerSelector
	metrics  *Metrics
	// 路由前缀
	prefix string
	// 扫描周期和心跳周期
	poll cron.Schedule
	ping cron.Schedule
	now  func() time.Time
	// 下一次心跳的时间，零值表示立即发送
	nextPing time.Time
	warmup   time.Duration
	timeout  time.Duration
	// 单实例租约
	lease      Lease
	leaseRetry ScheduleStrategy
}

func NewDispatcherCore(
	store DispatchStore,
	publisher Publisher,
	logger Logger,
	opts ...Options) *DispatcherCore {
	dispatcher := &DispatcherCore{
		logger:    logger,
		store:     store,
		publisher: publisher,
		selector:  RandomSelector{},
		prefix:    _const.DefaultRoutingPrefix,
		poll:      _const.EverySchedule(_const.DefaultPollInterval),
		ping:      _const.EverySchedule(_const.DefaultPingInterval),
		now:       time.Now,
		timeout:   _const.DefaultStoreTimeout,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	if dispatcher.lease != nil && dispatcher.leaseRetry == nil {
		dispatcher.leaseRetry = NewFixedScheduleStrategy(_const.DefaultLeaseTTL/3, 0)
	}

	return dispatcher
}

func (d *DispatcherCore) Broadcast(ctx context.Context) error {
	if d.lease == nil {
		return d.loop(ctx)
	}

	if err := d.lease.Acquire(ctx, d.leaseRetry); err != nil {
		return errors.Wrap(err, "acquire broadcast lease")
	}
	defer func() {
		if err := d.lease.Release(); err != nil {
			d.logger.Error("failed to release broadcast lease", ErrField(err))
		}
	}()

	// 续约失败时取消广播循环
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return d.lease.AutoRefresh(ectx)
	})
	eg.Go(func() error {
		return d.loop(ectx)
	})
	return eg.Wait()
}

func (d *DispatcherCore) loop(ctx context.Context) error {
	d.logger.Info("starting queue broadcaster", StringField("prefix", d.prefix))

	if d.warmup > 0 {
		if err := sleep(ctx, d.warmup); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := d.now()
		if err := d.Tick(ctx); err != nil {
			// 存储错误只影响当前周期，下一个周期会重新扫描
			d.logger.Error("broadcast cycle failed", ErrField(err))
		}

		wait := d.poll.Next(now).Sub(d.now())
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *DispatcherCore) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		d.metrics.observeCycle(time.Since(start))
	}()

	now := d.now()
	var errs []error

	if !now.Before(d.nextPing) {
		if err := d.broadcastPing(ctx); err != nil {
			d.metrics.incStageError(stagePing)
			errs = append(errs, err)
		} else {
			d.nextPing = d.ping.Next(now)
		}
	}

	if err := d.broadcastRuns(ctx, now); err != nil {
		d.metrics.incStageError(stageRuns)
		errs = append(errs, err)
	}

	if err := d.broadcastKillRequests(ctx); err != nil {
		d.metrics.incStageError(stageKill)
		errs = append(errs, err)
	}

	return stderrors.Join(errs...)
}

// broadcastRuns 投递到期的Run
// Job关闭了enqueue_is_enabled时只投递手动调度的Run，过滤在存储查询中完成
func (d *DispatcherCore) broadcastRuns(ctx context.Context, now time.Time) error {
	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	runs, err := d.store.EnqueueableRuns(lctx, now)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to list enqueueable runs")
	}

	ledger := newBroadcastLedger(len(runs))
	var errs []error

	for _, run := range runs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if run.Job == nil {
			d.logger.Warn("enqueueable run without readable job",
				Int64Field("run", run.ID), Int64Field("job", run.JobID))
			continue
		}

		// 同一周期内同一个Job只投递一个ScheduleID，相同ScheduleID的Run需要并行执行
		scheduleID := run.GetScheduleID()
		if !ledger.Allow(run.JobID, scheduleID) {
			d.logger.Debug("skipping run, job already broadcasted this cycle",
				Int64Field("run", run.ID), Int64Field("job", run.JobID))
			continue
		}

		dispatched, err := d.dispatchRun(ctx, run, now)
		if err != nil {
			d.logger.Error("failed to dispatch run", Int64Field("run", run.ID), ErrField(err))
			errs = append(errs, err)
			continue
		}
		if dispatched {
			ledger.Mark(run.JobID, scheduleID)
		}
	}

	return stderrors.Join(errs...)
}

// dispatchRun 为Run确定worker并投递，没有可用worker时返回false，等待下一个周期
func (d *DispatcherCore) dispatchRun(ctx context.Context, run domain.Run, now time.Time) (bool, error) {
	if run.Worker != nil {
		return true, d.publishRun(ctx, run, *run.Worker, now)
	}
	if run.WorkerID != nil {
		return false, errors.Newf("run %d assigned to worker %d which was not loaded", run.ID, *run.WorkerID)
	}

	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	workers, err := d.store.EnabledPoolWorkers(lctx, run.Job.WorkerPoolID)
	cancel()
	if err != nil {
		return false, errors.Wrapf(err, "failed to list workers of pool %d", run.Job.WorkerPoolID)
	}
	if len(workers) == 0 {
		d.logger.Debug("no enabled worker for run", Int64Field("run", run.ID),
			Int64Field("pool", run.Job.WorkerPoolID))
		return false, nil
	}

	if !run.Job.RunOnAllWorkers {
		return true, d.publishRun(ctx, run, d.selector.Pick(workers), now)
	}

	// 为每个worker复制一个Run，原始的未分配Run被删除
	lctx, cancel = context.WithTimeout(ctx, d.timeout)
	forked, err := d.store.ForkRun(lctx, run, workers)
	cancel()
	if err != nil {
		return false, errors.Wrapf(err, "failed to fork run %d", run.ID)
	}
	d.metrics.incRunsCreated("fan_out", len(forked))

	var errs []error
	for _, f := range forked {
		worker := f.Worker
		if worker == nil {
			errs = append(errs, errors.Newf("forked run %d without worker", f.ID))
			continue
		}
		if err = d.publishRun(ctx, f, *worker, now); err != nil {
			errs = append(errs, err)
		}
	}
	return true, stderrors.Join(errs...)
}

// publishRun 发布成功后才记录投递时间，失败的Run会在下一个周期重新投递
func (d *DispatcherCore) publishRun(ctx context.Context, run domain.Run, worker domain.Worker, now time.Time) error {
	if !d.publish(ctx, _const.ActionEnqueue, worker.APIKey, NewEnqueueMessage(run.ID)) {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.MarkRunEnqueued(lctx, run.ID, worker.ID, now); err != nil {
		return errors.Wrapf(err, "failed to mark run %d enqueued", run.ID)
	}
	return nil
}

// broadcastKillRequests 每个周期都重新发送，直到worker确认
func (d *DispatcherCore) broadcastKillRequests(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	requests, err := d.store.KillableRequests(lctx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to list kill requests")
	}

	for _, kr := range requests {
		if kr.Run == nil || kr.Run.Worker == nil {
			d.logger.Warn("kill request for run without worker", Int64Field("kill_request", kr.ID))
			continue
		}
		d.publish(ctx, _const.ActionKill, kr.Run.Worker.APIKey, NewKillMessage(kr.ID))
	}
	return nil
}

// broadcastPing 向所有worker发送心跳，不跟踪响应
func (d *DispatcherCore) broadcastPing(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	workers, err := d.store.ListWorkers(lctx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to list workers")
	}

	for _, w := range workers {
		d.publish(ctx, _const.ActionPing, w.APIKey, NewPingMessage())
	}
	return nil
}

// publish 发送失败只记录，不在本周期重试
func (d *DispatcherCore) publish(ctx context.Context, action _const.Action, apiKey string, msg any) bool {
	key := RoutingKey(d.prefix, apiKey)
	payload, err := encodeMessage(msg)
	if err != nil {
		d.logger.Error("failed to encode message", StringField("routing_key", key), ErrField(err))
		d.metrics.incPublishError(action.String())
		return false
	}

	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	err = d.publisher.Publish(lctx, key, payload)
	cancel()
	if err != nil {
		d.logger.Error("failed to publish message", StringField("routing_key", key),
			StringField("action", action.String()), ErrField(err))
		d.metrics.incPublishError(action.String())
		return false
	}

	d.logger.Debug("sending", StringField("routing_key", key),
		StringField("payload", string(payload)))
	d.metrics.incPublished(action.String())
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
