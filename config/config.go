package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 JOB_RUNNER_DATABASE_DSN
const EnvPrefix = "JOB_RUNNER"

var validate = validator.New()

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Reschedule RescheduleConfig `mapstructure:"reschedule"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Lease      LeaseConfig      `mapstructure:"lease"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type BroadcastConfig struct {
	// PollSchedule 扫描周期，cron表达式或@every描述符
	PollSchedule  string        `mapstructure:"poll_schedule" validate:"required"`
	PingSchedule  string        `mapstructure:"ping_schedule" validate:"required"`
	RoutingPrefix string        `mapstructure:"routing_prefix" validate:"required"`
	Warmup        time.Duration `mapstructure:"warmup" validate:"min=0"`
}

type RescheduleConfig struct {
	Timezone             string `mapstructure:"timezone" validate:"required"`
	MaxExcludeIterations int    `mapstructure:"max_exclude_iterations" validate:"min=1"`
	MaxPastIterations    int    `mapstructure:"max_past_iterations" validate:"min=1"`
}

// Location 解析时区
func (r RescheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", r.Timezone)
	}
	return loc, nil
}

// SMTPConfig Addr为空时通知只写日志
type SMTPConfig struct {
	Addr     string `mapstructure:"addr"`
	From     string `mapstructure:"from" validate:"required_with=Addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LeaseConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Name    string        `mapstructure:"name" validate:"required_if=Enabled true"`
	TTL     time.Duration `mapstructure:"ttl" validate:"required_if=Enabled true"`
}

// MetricsConfig Addr为空时不启动指标服务
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults 全部配置项的默认值，环境变量只对已知的键生效
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("broadcast.poll_schedule", "@every 5s")
	v.SetDefault("broadcast.ping_schedule", "@every 60s")
	v.SetDefault("broadcast.routing_prefix", "master.broadcast.")
	v.SetDefault("broadcast.warmup", "2s")

	v.SetDefault("reschedule.timezone", "UTC")
	v.SetDefault("reschedule.max_exclude_iterations", 1000)
	v.SetDefault("reschedule.max_past_iterations", 1000000)

	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")

	v.SetDefault("lease.enabled", false)
	v.SetDefault("lease.name", "broadcast")
	v.SetDefault("lease.ttl", "30s")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load 读取配置，优先级：环境变量 > 配置文件 > 默认值
// path为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper 使用外部提供的viper实例，便于命令行参数绑定
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}
