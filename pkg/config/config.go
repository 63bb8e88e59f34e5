package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	ClickHouse      ClickHouseConfig
	Auth            AuthConfig
	Logging         LoggingConfig
	Kafka           KafkaConfig
	Outbox          OutboxRelayConfig
	Scheduler       SchedulerConfig
	Retry           RetryConfig
	Executor        ExecutorConfig
	SMTP            SMTPConfig
	Voice           VoiceConfig
	Personalization PersonalizationConfig
	Sentry          SentryConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type ClickHouseConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Database string   `mapstructure:"database"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

var ErrMissingJWTSecret = errors.New("auth.jwt_secret is not set")

// Validate rejects an empty signing secret, which would let anyone mint
// API tokens and click links.
func (c *AuthConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	// ActionLogArchive mirrors action-log entries to an extra store: none or clickhouse.
	ActionLogArchive string `mapstructure:"action_log_archive"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	ClientID   string   `mapstructure:"client_id"`
	EventTopic string   `mapstructure:"event_topic"`
	DLQTopic   string   `mapstructure:"dlq_topic"`

	// Inbound provider events. An empty InboundTopic disables the consumer.
	InboundTopic      string        `mapstructure:"inbound_topic"`
	InboundRetryTopic string        `mapstructure:"inbound_retry_topic"`
	InboundDLQTopic   string        `mapstructure:"inbound_dlq_topic"`
	GroupID           string        `mapstructure:"group_id"`
	MaxRetries        int           `mapstructure:"max_retries"`
	DedupeTTL         time.Duration `mapstructure:"dedupe_ttl"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	// Retention of published events; zero keeps them.
	Retention    time.Duration `mapstructure:"retention"`
}

type SchedulerConfig struct {
	// TickSpec is a robfig/cron spec, e.g. "@every 1m" or "* * * * *".
	TickSpec           string        `mapstructure:"tick_spec"`
	BatchSize          int           `mapstructure:"batch_size"`
	Workers            int           `mapstructure:"workers"`
	ConfigRecheckDelay time.Duration `mapstructure:"config_recheck_delay"`
	StopRetries        int           `mapstructure:"stop_retries"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Delay           time.Duration `mapstructure:"delay"`
	CallMaxAttempts int           `mapstructure:"call_max_attempts"`
	CallDelay       time.Duration `mapstructure:"call_delay"`
}

type ExecutorConfig struct {
	SendsPerSecond float64 `mapstructure:"sends_per_second"`
	Burst          int     `mapstructure:"burst"`
}

type SMTPConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TrackingBaseURL string `mapstructure:"tracking_base_url"`
}

func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type VoiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PersonalizationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load reads .env (if present), config.yaml and LEADFLOW_* environment
// variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/leadflow/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leadflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "leadflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.cluster_mode", false)
	v.SetDefault("clickhouse.hosts", []string{"localhost:9000"})
	v.SetDefault("clickhouse.database", "leadflow")
	v.SetDefault("clickhouse.user", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.action_log_archive", "none")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "leadflow")
	v.SetDefault("kafka.event_topic", "leadflow.outreach.events")
	v.SetDefault("kafka.dlq_topic", "leadflow.outreach.events.dlq")
	v.SetDefault("kafka.inbound_topic", "")
	v.SetDefault("kafka.inbound_retry_topic", "leadflow.provider.events.retry")
	v.SetDefault("kafka.inbound_dlq_topic", "leadflow.provider.events.dlq")
	v.SetDefault("kafka.group_id", "leadflow-scheduler")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.dedupe_ttl", "24h")
	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.retention", "168h")
	v.SetDefault("scheduler.tick_spec", "@every 1m")
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.config_recheck_delay", "1h")
	v.SetDefault("scheduler.stop_retries", 3)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay", "5m")
	v.SetDefault("retry.call_max_attempts", 3)
	v.SetDefault("retry.call_delay", "10m")
	v.SetDefault("executor.sends_per_second", 5.0)
	v.SetDefault("executor.burst", 5)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.tracking_base_url", "")
	v.SetDefault("voice.base_url", "")
	v.SetDefault("voice.api_key", "")
	v.SetDefault("voice.timeout", "15s")
	v.SetDefault("personalization.base_url", "")
	v.SetDefault("personalization.api_key", "")
	v.SetDefault("personalization.timeout", "20s")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
