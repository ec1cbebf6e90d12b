package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the notification processor.
type Config struct {
	Ops           ServerConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Database      DatabaseConfig
	Processor     ProcessorConfig
	Capability    CacheSourceConfig `mapstructure:"capability_cache"`
	Webhook       CacheSourceConfig `mapstructure:"webhook_cache"`
	Observability ObservabilityConfig
}

// ProcessorConfig covers the notification processor's own knobs.
type ProcessorConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	TopicPrefix      string        `mapstructure:"topic_prefix"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	DatastoreTimeout time.Duration `mapstructure:"datastore_timeout"`
}

// CacheSourceConfig configures one of the two self-updating caches.
type CacheSourceConfig struct {
	CatalogURLs     []string      `mapstructure:"catalog_urls"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RedisMirrorTTL  time.Duration `mapstructure:"redis_mirror_ttl"`
}

// ServerConfig describes the ops HTTP surface.
type ServerConfig struct {
	Host          string          `mapstructure:"host"`
	Port          int             `mapstructure:"port"`
	ReadTimeout   time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration   `mapstructure:"write_timeout"`
	OPAPolicyPath string          `mapstructure:"opa_policy_path"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	MaxTokens int           `mapstructure:"max_tokens"`
	Window    time.Duration `mapstructure:"window"`
}

type RedisConfig struct {
	Addresses       []string      `mapstructure:"addresses"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers  []string       `mapstructure:"brokers"`
	GroupID  string         `mapstructure:"group_id"`
	Topic    string         `mapstructure:"topic"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Producer ProducerConfig `mapstructure:"producer"`
}

type ConsumerConfig struct {
	MinBytes         int           `mapstructure:"min_bytes"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout"`
	RebalanceTimeout time.Duration `mapstructure:"rebalance_timeout"`
}

type ProducerConfig struct {
	Compression       string        `mapstructure:"compression"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

type ObservabilityConfig struct {
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
	Tracing          TracingConfig `mapstructure:"tracing"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads config.yaml (if present) with NOTIFIER_-prefixed env overrides.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/notification-processor/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NOTIFIER")

	viper.SetDefault("ops.host", "0.0.0.0")
	viper.SetDefault("ops.port", 8085)
	viper.SetDefault("ops.read_timeout", "10s")
	viper.SetDefault("ops.write_timeout", "10s")
	viper.SetDefault("ops.rate_limit.max_tokens", 60)
	viper.SetDefault("ops.rate_limit.window", "1m")

	viper.SetDefault("processor.batch_size", 10)
	viper.SetDefault("processor.topic_prefix", "rp.events.")
	viper.SetDefault("processor.publish_timeout", "10s")
	viper.SetDefault("processor.datastore_timeout", "10s")

	viper.SetDefault("capability_cache.refresh_interval", "60s")
	viper.SetDefault("capability_cache.request_timeout", "10s")
	viper.SetDefault("capability_cache.redis_mirror_ttl", "180s")

	viper.SetDefault("webhook_cache.refresh_interval", "60s")
	viper.SetDefault("webhook_cache.request_timeout", "10s")
	viper.SetDefault("webhook_cache.redis_mirror_ttl", "180s")

	viper.SetDefault("redis.pool_size", 50)
	viper.SetDefault("database.max_conns", 20)
	viper.SetDefault("database.min_conns", 2)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
