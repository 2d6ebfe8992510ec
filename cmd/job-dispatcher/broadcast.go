package main

import (
	"context"
	"math"
	"net/http"
	"time"

	jobrunner "github.com/TimeWtr/job_runner"
	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/repository"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBroadcastCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast",
		Short: "Run the queue broadcaster loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.broadcast(cmd.Context())
		},
	}
}

func (a *app) broadcast(ctx context.Context) error {
	poll, err := _const.ParseSchedule(a.cfg.Broadcast.PollSchedule)
	if err != nil {
		return errors.Wrapf(err, "parse poll schedule %q", a.cfg.Broadcast.PollSchedule)
	}
	ping, err := _const.ParseSchedule(a.cfg.Broadcast.PingSchedule)
	if err != nil {
		return errors.Wrapf(err, "parse ping schedule %q", a.cfg.Broadcast.PingSchedule)
	}

	client := a.redisClient()
	defer func() {
		_ = client.Close()
	}()
	if err = client.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(err, "connect redis %s", a.cfg.Redis.Addr)
	}

	metrics, reg := a.metrics()
	opts := []jobrunner.Options{
		jobrunner.WithRoutingPrefix(a.cfg.Broadcast.RoutingPrefix),
		jobrunner.WithPollSchedule(poll),
		jobrunner.WithPingSchedule(ping),
		jobrunner.WithWarmup(a.cfg.Broadcast.Warmup),
		jobrunner.WithMetrics(metrics),
	}
	if a.cfg.Lease.Enabled {
		lease := jobrunner.NewDBLease(a.db, a.cfg.Lease.Name, leaseHolder(),
			jobrunner.WithLeaseTTL(a.cfg.Lease.TTL))
		// 备用实例持续等待租约
		retry := jobrunner.NewFixedScheduleStrategy(a.cfg.Lease.TTL/3, math.MaxInt)
		opts = append(opts, jobrunner.WithLease(lease, retry))
	}

	dispatcher := jobrunner.NewDispatcherCore(repository.NewRepository(a.db),
		jobrunner.NewRedisPublisher(client), a.logger, opts...)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return dispatcher.Broadcast(ectx)
	})

	if a.cfg.Metrics.Addr != "" {
		server := jobrunner.NewMetricsServer(a.cfg.Metrics.Addr, reg)
		eg.Go(func() error {
			a.logger.Info("serving metrics", jobrunner.StringField("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ectx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("queue broadcaster stopped")
		return nil
	}
	return err
}
