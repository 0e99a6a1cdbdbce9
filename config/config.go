package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Retention RetentionConfig `mapstructure:"retention"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite, postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type DiscordConfig struct {
	Token         string        `mapstructure:"token"`
	AppID         string        `mapstructure:"app_id"`
	GuildID       string        `mapstructure:"guild_id"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RecoveryConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	QueueSize     int     `mapstructure:"queue_size"`
}

type IdentityConfig struct {
	MarkerSalt string `mapstructure:"marker_salt"`
}

// RedisConfig Addr 为空时不启用 Redis（锁与缓存退化为本地实现）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var ErrInvalidConfig = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "thoughts.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.app_id", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.remote_timeout", 10*time.Second)
	v.SetDefault("retention.window", 365*24*time.Hour)
	v.SetDefault("retention.sweep_interval", 24*time.Hour)
	v.SetDefault("recovery.rate_per_second", 2.0)
	v.SetDefault("recovery.queue_size", 8)
	v.SetDefault("identity.marker_salt", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "thought-board")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "thought-board")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load 读取配置：config.yaml（可选）+ THOUGHTBOARD_ 前缀环境变量
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("THOUGHTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验与具体命令无关的配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is empty", ErrInvalidConfig)
	}
	if c.Retention.Window <= 0 {
		return fmt.Errorf("%w: retention.window must be positive", ErrInvalidConfig)
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("%w: retention.sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.Discord.RemoteTimeout <= 0 {
		return fmt.Errorf("%w: discord.remote_timeout must be positive", ErrInvalidConfig)
	}
	if c.Recovery.RatePerSecond <= 0 {
		return fmt.Errorf("%w: recovery.rate_per_second must be positive", ErrInvalidConfig)
	}
	return nil
}

// RequireBot 校验运行机器人所需的配置
func (c *Config) RequireBot() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("%w: discord.token is required", ErrInvalidConfig)
	}
	if c.Identity.MarkerSalt == "" {
		return fmt.Errorf("%w: identity.marker_salt is required", ErrInvalidConfig)
	}
	return nil
}
