package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"hush/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return decode(v)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("broker.type", constants.BrokerKafka)
	v.SetDefault("broker.kafka.input_topic", constants.DefaultInputTopic)
	v.SetDefault("broker.kafka.single_topic", constants.DefaultSingleTopic)
	v.SetDefault("broker.kafka.batch_topic", constants.DefaultBatchTopic)
	v.SetDefault("broker.kafka.config_update_topic", constants.DefaultConfigUpdateTopic)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("filtering.reload.interval_seconds", 60)
	v.SetDefault("filtering.fallback.on_error", constants.FallbackAllow)
	// a ticket becoming blocked or done is worth hearing about from any
	// status; a configured list replaces these
	v.SetDefault("filtering.important_transitions", []map[string]interface{}{
		{"from": "*", "to": "blocked"},
		{"from": "*", "to": "done"},
	})

	v.SetDefault("suppression.store", constants.StoreMemory)
	v.SetDefault("suppression.hash_algorithm", constants.HashSHA256)
	v.SetDefault("suppression.content_retention", constants.DefaultContentRetention)
	v.SetDefault("suppression.frequency_window", constants.DefaultFrequencyWindow)
	v.SetDefault("suppression.frequency_limit", constants.DefaultFrequencyLimit)
	v.SetDefault("suppression.on_store_error", constants.FallbackAllow)

	v.SetDefault("batching.max_batch_size", constants.DefaultMaxBatchSize)
	v.SetDefault("batching.max_batch_age", constants.DefaultMaxBatchAge)
	v.SetDefault("batching.similarity_threshold", constants.DefaultSimilarityThreshold)
	v.SetDefault("batching.sweep_interval", constants.DefaultSweepInterval)
	v.SetDefault("batching.idle_horizon", constants.DefaultIdleHorizon)
	v.SetDefault("batching.max_channels", constants.DefaultMaxChannels)
	v.SetDefault("batching.max_groups_per_channel", constants.DefaultMaxGroupsPerChannel)
	v.SetDefault("batching.lock_timeout", constants.DefaultLockTimeout)
	v.SetDefault("batching.lock_retries", constants.DefaultLockRetries)

	v.SetDefault("analytics.buffer_size", constants.DefaultAnalyticsBufferSize)
	v.SetDefault("analytics.sink", constants.SinkNone)
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	v.BindEnv("broker.kafka.single_topic", "BROKER_KAFKA_SINGLE_TOPIC")
	v.BindEnv("broker.kafka.batch_topic", "BROKER_KAFKA_BATCH_TOPIC")
	v.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	v.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	v.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	v.BindEnv("server.port", "SERVER_PORT")

	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
