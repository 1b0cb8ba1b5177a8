package config

import (
	"errors"
	"fmt"
	"strings"

	"hush/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// issues collects every problem in a config so one load reports them all.
type issues []error

func (is *issues) require(ok bool, field, format string, args ...interface{}) {
	if !ok {
		*is = append(*is, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

func (is issues) err() error {
	return errors.Join(is...)
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// ValidateStatic checks the whole configuration and joins every problem it
// finds into the returned error.
func ValidateStatic(cfg *Config) error {
	var is issues
	is.server(cfg.Server)
	is.broker(cfg.Broker)
	is.database(cfg.Database)
	is.logging(cfg.Logging)
	is.filtering(cfg.Filtering)
	is.suppression(cfg.Suppression, cfg.Database)
	is.batching(cfg.Batching)
	is.analytics(cfg.Analytics, cfg.Database)
	return is.err()
}

func (is *issues) server(cfg ServerConfig) {
	is.require(validPort(cfg.Port), "server.port", "must be between 1 and 65535, got %d", cfg.Port)
	is.require(cfg.ReadTimeout > 0, "server.read_timeout", "must be positive")
	is.require(cfg.WriteTimeout > 0, "server.write_timeout", "must be positive")
}

func (is *issues) broker(cfg BrokerConfig) {
	if cfg.Type != constants.BrokerKafka {
		is.require(false, "broker.type", "unknown broker %q (supported: kafka)", cfg.Type)
		return
	}

	k := cfg.Kafka
	is.require(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one broker is required")
	for i, b := range k.Brokers {
		is.require(b != "", fmt.Sprintf("broker.kafka.brokers[%d]", i), "address cannot be empty")
	}
	is.require(k.GroupID != "", "broker.kafka.group_id", "consumer group is required")
	is.require(k.InputTopic != "", "broker.kafka.input_topic", "input topic is required")

	r := k.Retry
	is.require(r.MaxAttempts >= 0, "broker.kafka.retry.max_attempts", "must be non-negative")
	is.require(r.InitialInterval >= 0, "broker.kafka.retry.initial_interval", "must be non-negative")
	is.require(r.MaxInterval >= 0, "broker.kafka.retry.max_interval", "must be non-negative")
	is.require(r.MaxInterval == 0 || r.MaxInterval >= r.InitialInterval,
		"broker.kafka.retry.max_interval", "must not be below initial_interval")
	is.require(r.Multiplier > 0, "broker.kafka.retry.multiplier", "must be positive")
}

// database checks only the stores that are configured at all.
func (is *issues) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		is.require(pg.Host != "", "database.postgres.host", "is required")
		is.require(validPort(pg.Port), "database.postgres.port", "must be between 1 and 65535, got %d", pg.Port)
		is.require(pg.User != "", "database.postgres.user", "is required")
		is.require(pg.DBName != "", "database.postgres.dbname", "is required")
		is.require(pg.SSLMode == "" || oneOf(pg.SSLMode, "disable", "allow", "prefer", "require", "verify-ca", "verify-full"),
			"database.postgres.sslmode", "invalid mode %q", pg.SSLMode)
	}

	if rd := cfg.Redis; rd.Host != "" || rd.Port > 0 {
		is.require(rd.Host != "", "database.redis.host", "is required")
		is.require(validPort(rd.Port), "database.redis.port", "must be between 1 and 65535, got %d", rd.Port)
	}

	if mg := cfg.MongoDB; mg.URI != "" {
		is.require(strings.HasPrefix(mg.URI, "mongodb://") || strings.HasPrefix(mg.URI, "mongodb+srv://"),
			"database.mongodb.uri", "must start with mongodb:// or mongodb+srv://")
		is.require(mg.Database != "", "database.mongodb.database", "is required")
	}
}

func (is *issues) logging(cfg LoggingConfig) {
	is.require(cfg.Level == "" || oneOf(cfg.Level, "debug", "info", "warn", "error"),
		"logging.level", "invalid level %q (valid: debug, info, warn, error)", cfg.Level)
	is.require(cfg.Format == "" || oneOf(cfg.Format, "json", "console"),
		"logging.format", "invalid format %q (valid: json, console)", cfg.Format)
}

func (is *issues) filtering(cfg FilteringConfig) {
	is.require(cfg.Reload.IntervalSeconds >= 0, "filtering.reload.interval_seconds", "must be non-negative")
	is.require(cfg.Reload.JitterMaxMilliseconds >= 0, "filtering.reload.jitter_max_milliseconds", "must be non-negative")
	is.require(validFallback(cfg.Fallback.OnError), "filtering.fallback.on_error", "invalid fallback %q (valid: allow, deny)", cfg.Fallback.OnError)
	for i, t := range cfg.ImportantTransitions {
		is.require(t.From != "" && t.To != "", fmt.Sprintf("filtering.important_transitions[%d]", i), "both from and to are required")
	}
}

func (is *issues) suppression(cfg SuppressionConfig, db DatabaseConfig) {
	is.require(cfg.HashAlgorithm == "" || oneOf(cfg.HashAlgorithm, constants.HashMD5, constants.HashSHA1, constants.HashSHA256),
		"suppression.hash_algorithm", "invalid algorithm %q (valid: md5, sha1, sha256)", cfg.HashAlgorithm)

	switch cfg.Store {
	case "", constants.StoreMemory:
	case constants.StoreRedis:
		is.require(db.Redis.Host != "", "suppression.store", "redis store requires database.redis")
	default:
		is.require(false, "suppression.store", "invalid store %q (valid: memory, redis)", cfg.Store)
	}

	is.require(cfg.ContentRetention > 0, "suppression.content_retention", "must be positive")
	is.require(cfg.FrequencyWindow > 0, "suppression.frequency_window", "must be positive")
	is.require(cfg.FrequencyLimit > 0, "suppression.frequency_limit", "must be positive")
	for source, limit := range cfg.SourceLimits {
		is.require(limit > 0, "suppression.source_limits."+source, "must be positive")
	}
	is.require(validFallback(cfg.OnStoreError), "suppression.on_store_error", "invalid value %q (valid: allow, deny)", cfg.OnStoreError)
}

// ValidateBatching is exported so hot reloads can reject a bad file before
// swapping thresholds.
func ValidateBatching(cfg BatchingConfig) error {
	var is issues
	is.batching(cfg)
	return is.err()
}

func (is *issues) batching(cfg BatchingConfig) {
	is.require(cfg.MaxBatchSize >= 1, "batching.max_batch_size", "must be at least 1, got %d", cfg.MaxBatchSize)
	is.require(cfg.MaxBatchAge > 0, "batching.max_batch_age", "must be positive")
	is.require(cfg.SimilarityThreshold >= 0 && cfg.SimilarityThreshold <= 1,
		"batching.similarity_threshold", "must be within [0, 1], got %v", cfg.SimilarityThreshold)
	is.require(cfg.SweepInterval > 0, "batching.sweep_interval", "must be positive")
	is.require(cfg.IdleHorizon > 0, "batching.idle_horizon", "must be positive")
	is.require(cfg.MaxChannels >= 1, "batching.max_channels", "must be at least 1")
	is.require(cfg.MaxGroupsPerChannel >= 1, "batching.max_groups_per_channel", "must be at least 1")
	is.require(cfg.LockTimeout > 0, "batching.lock_timeout", "must be positive")
	is.require(cfg.LockRetries >= 0, "batching.lock_retries", "must be non-negative")
	for channel, override := range cfg.Channels {
		if err := ValidateChannelBatch(override); err != nil {
			is.require(false, "batching.channels."+channel, "%v", err)
		}
	}
}

// ValidateChannelBatch checks a per-channel override; zero values inherit.
func ValidateChannelBatch(cfg ChannelBatchConfig) error {
	var is issues
	is.require(cfg.MaxBatchSize >= 0, "max_batch_size", "must be non-negative")
	is.require(cfg.MaxBatchAge >= 0, "max_batch_age", "must be non-negative")
	return is.err()
}

func (is *issues) analytics(cfg AnalyticsConfig, db DatabaseConfig) {
	is.require(cfg.BufferSize >= 1, "analytics.buffer_size", "must be at least 1")
	switch cfg.Sink {
	case "", constants.SinkNone:
	case constants.SinkMongoDB:
		is.require(db.MongoDB.URI != "", "analytics.sink", "mongodb sink requires database.mongodb")
	default:
		is.require(false, "analytics.sink", "invalid sink %q (valid: none, mongodb)", cfg.Sink)
	}
}

func validFallback(v string) bool {
	return v == "" || oneOf(v, constants.FallbackAllow, constants.FallbackDeny)
}
