package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lock        LockConfig        `mapstructure:"lock"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Business    BusinessConfig    `mapstructure:"business"`
	Corebanking CorebankingConfig `mapstructure:"corebanking"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 事件日志存储。Driver 取值 mysql / postgres / memory
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// 投影读取事件日志时的可见延迟，追加事务的超时取其一半
	JournalLagMs int `mapstructure:"journal_lag_ms"`
}

func (d DatabaseConfig) JournalLag() time.Duration {
	return time.Duration(d.JournalLagMs) * time.Millisecond
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig 实体单写者锁：local 为进程内锁，redis 为多副本部署时的分布式锁
type LockConfig struct {
	Driver     string `mapstructure:"driver"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

type KafkaConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AccountEvents string `mapstructure:"account_events"`
}

type BusinessConfig struct {
	AutoCancelSeconds        int `mapstructure:"auto_cancel_seconds"`
	RemoteCallTimeoutSeconds int `mapstructure:"remote_call_timeout_seconds"`
	MaxRetryCount            int `mapstructure:"max_retry_count"`
	RecoveryGraceSeconds     int `mapstructure:"recovery_grace_seconds"`
	InboxTTLHours            int `mapstructure:"inbox_ttl_hours"`
}

func (b BusinessConfig) AutoCancelAfter() time.Duration {
	return time.Duration(b.AutoCancelSeconds) * time.Second
}

func (b BusinessConfig) RemoteCallTimeout() time.Duration {
	return time.Duration(b.RemoteCallTimeoutSeconds) * time.Second
}

func (b BusinessConfig) RecoveryGrace() time.Duration {
	return time.Duration(b.RecoveryGraceSeconds) * time.Second
}

func (b BusinessConfig) InboxTTL() time.Duration {
	return time.Duration(b.InboxTTLHours) * time.Hour
}

// CorebankingConfig 支付服务调用账户服务的地址
type CorebankingConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.journal_lag_ms", 3000)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl_seconds", 30)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.consumer_group", "payments-account-events")
	v.SetDefault("kafka.topic.account_events", "corebanking.account-events")
	v.SetDefault("business.auto_cancel_seconds", 300)
	v.SetDefault("business.remote_call_timeout_seconds", 5)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.recovery_grace_seconds", 60)
	v.SetDefault("business.inbox_ttl_hours", 72)
	v.SetDefault("corebanking.base_url", "http://127.0.0.1:8081")
	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件。configPath 为空时只使用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARDPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.JournalLagMs <= 0 {
		return fmt.Errorf("database.journal_lag_ms must be positive for sql drivers")
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock driver redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported lock driver %q", c.Lock.Driver)
	}
	if c.Business.AutoCancelSeconds <= 0 {
		return fmt.Errorf("business.auto_cancel_seconds must be positive")
	}
	if c.Business.RemoteCallTimeoutSeconds <= 0 {
		return fmt.Errorf("business.remote_call_timeout_seconds must be positive")
	}
	return nil
}
