package constants

import "time"

const (
	ServiceName = "notification-service"
)

const (
	BrokerKafka       = "kafka"
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultInputTopic        = "notification_events"
	DefaultSingleTopic       = "notifications_single"
	DefaultBatchTopic        = "notifications_batched"
	DefaultConfigUpdateTopic = "config_updates"
)

const (
	CacheKeyPrefixContent   = "hush:content:"
	CacheKeyPrefixFrequency = "hush:freq:"
)

const (
	DefaultMongoDBName         = "hush"
	DecisionsCollection        = "notification_decisions"
	BatchesCollection          = "notification_batches"
	DefaultAnalyticsBufferSize = 1024
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultContentRetention = time.Hour
	DefaultFrequencyWindow  = 10 * time.Minute
	DefaultFrequencyLimit   = 5
)

const (
	DefaultMaxBatchSize        = 5
	DefaultMaxBatchAge         = 5 * time.Minute
	DefaultSimilarityThreshold = 0.5
	DefaultSweepInterval       = 30 * time.Second
	DefaultIdleHorizon         = 24 * time.Hour
	DefaultMaxChannels         = 10000
	DefaultMaxGroupsPerChannel = 100
	DefaultLockTimeout         = 100 * time.Millisecond
	DefaultLockRetries         = 3
)

const (
	DefaultOutboxCapacity      = 1000
	DefaultOutboxRetryInterval = time.Second
	DefaultOutboxMaxAttempts   = 5
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	SinkNone     = "none"
	SinkMongoDB  = "mongodb"
	HashSHA256   = "sha256"
	HashSHA1     = "sha1"
	HashMD5      = "md5"
	DefaultTeam  = ""
	HeaderUserID = "X-User-ID"
)
