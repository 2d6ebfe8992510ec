package main

import (
	"fmt"
	"os"

	jobrunner "github.com/TimeWtr/job_runner"
	"github.com/TimeWtr/job_runner/config"
	"github.com/TimeWtr/job_runner/repository"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// app 命令共享的依赖，按需初始化
type app struct {
	cfgPath string
	cfg     *config.Config
	zap     *zap.Logger
	logger  jobrunner.Logger
	db      *gorm.DB
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "job-dispatcher",
		Short:         "Schedules job runs and broadcasts them to workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to the config file")

	root.AddCommand(
		newBroadcastCmd(a),
		newMigrateCmd(a),
		newRescheduleCmd(a),
		newScheduleNowCmd(a),
		newRunsCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.zap, err = newZap(cfg.Log); err != nil {
		return err
	}
	a.logger = jobrunner.NewZapLogger(a.zap)

	if a.db, err = openDB(cfg.Database); err != nil {
		a.logger.Error("failed to open database", jobrunner.ErrField(err))
		return err
	}
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}

func newZap(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Driver)
	}
	return db, nil
}

func (a *app) notifier() jobrunner.Notifier {
	if a.cfg.SMTP.Addr == "" {
		return jobrunner.NewLogNotifier(a.logger)
	}
	return jobrunner.NewSMTPNotifier(jobrunner.SMTPConfig{
		Addr:     a.cfg.SMTP.Addr,
		From:     a.cfg.SMTP.From,
		Username: a.cfg.SMTP.Username,
		Password: a.cfg.SMTP.Password,
	})
}

func (a *app) rescheduler(repo *repository.Repository, metrics *jobrunner.Metrics) (*jobrunner.Rescheduler, error) {
	loc, err := a.cfg.Reschedule.Location()
	if err != nil {
		return nil, err
	}
	return jobrunner.NewRescheduler(repo, a.notifier(), a.logger,
		jobrunner.WithLocation(loc),
		jobrunner.WithIterationLimits(a.cfg.Reschedule.MaxExcludeIterations,
			a.cfg.Reschedule.MaxPastIterations),
		jobrunner.WithRescheduleMetrics(metrics),
	), nil
}

func (a *app) redisClient() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}

func (a *app) metrics() (*jobrunner.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return jobrunner.NewMetrics(reg), reg
}

// leaseHolder 租约持有者标识：主机名、进程号和随机后缀
func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
