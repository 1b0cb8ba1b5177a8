package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Filtering      FilteringConfig      `mapstructure:"filtering"`
	Suppression    SuppressionConfig    `mapstructure:"suppression"`
	Batching       BatchingConfig       `mapstructure:"batching"`
	Analytics      AnalyticsConfig      `mapstructure:"analytics"`
	Management     ManagementConfig     `mapstructure:"management"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	InputTopic        string      `mapstructure:"input_topic"`
	SingleTopic       string      `mapstructure:"single_topic"`
	BatchTopic        string      `mapstructure:"batch_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FilteringConfig struct {
	Reload               ReloadConfig       `mapstructure:"reload"`
	Fallback             FallbackConfig     `mapstructure:"fallback"`
	ImportantTransitions []TransitionConfig `mapstructure:"important_transitions"`
	MinorFields          []string           `mapstructure:"minor_fields"`
}

type FallbackConfig struct {
	OnError string `mapstructure:"on_error"` // "allow" (default) or "deny"
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

// TransitionConfig is one (from, to) status pair considered worth a notification.
type TransitionConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

type SuppressionConfig struct {
	Store            string         `mapstructure:"store"` // "memory" or "redis"
	HashAlgorithm    string         `mapstructure:"hash_algorithm"`
	ContentFields    []string       `mapstructure:"content_fields"`
	ContentRetention time.Duration  `mapstructure:"content_retention"`
	FrequencyWindow  time.Duration  `mapstructure:"frequency_window"`
	FrequencyLimit   int            `mapstructure:"frequency_limit"`
	SourceLimits     map[string]int `mapstructure:"source_limits"`
	OnStoreError     string         `mapstructure:"on_store_error"`
}

type BatchingConfig struct {
	MaxBatchSize        int                           `mapstructure:"max_batch_size"`
	MaxBatchAge         time.Duration                 `mapstructure:"max_batch_age"`
	SimilarityThreshold float64                       `mapstructure:"similarity_threshold"`
	SweepInterval       time.Duration                 `mapstructure:"sweep_interval"`
	IdleHorizon         time.Duration                 `mapstructure:"idle_horizon"`
	MaxChannels         int                           `mapstructure:"max_channels"`
	MaxGroupsPerChannel int                           `mapstructure:"max_groups_per_channel"`
	LockTimeout         time.Duration                 `mapstructure:"lock_timeout"`
	LockRetries         int                           `mapstructure:"lock_retries"`
	Channels            map[string]ChannelBatchConfig `mapstructure:"channels"`
}

// ChannelBatchConfig overrides the batching thresholds for a single channel.
type ChannelBatchConfig struct {
	MaxBatchSize int           `mapstructure:"max_batch_size" json:"max_batch_size"`
	MaxBatchAge  time.Duration `mapstructure:"max_batch_age" json:"max_batch_age"`
}

type AnalyticsConfig struct {
	BufferSize int    `mapstructure:"buffer_size"`
	Sink       string `mapstructure:"sink"` // "none" or "mongodb"
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
