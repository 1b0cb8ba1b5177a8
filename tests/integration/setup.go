package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/docker/go-connections/nat"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/pkg/bootstrap"
)

const (
	testUser     = "test_user"
	testPassword = "test_password"
	testDatabase = "test_db"
)

type TestInfra struct {
	PostgresDB   *sql.DB
	MongoDB      *mongo.Database
	RedisClient  *redisclient.Client
	KafkaBrokers []string
}

type Needs struct {
	Postgres bool
	Mongo    bool
	Redis    bool
	Kafka    bool
}

// SetupTestInfra starts the requested containers and connects to them
// through bootstrap.DatabaseConnector, so migrations and collection setup
// run exactly as they do in the service.
func SetupTestInfra(t *testing.T, needs Needs) *TestInfra {
	t.Helper()

	if testing.Short() {
		t.Skip("integration tests need docker")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	cfg := &config.Config{
		Database:    config.DatabaseConfig{RunMigrations: true},
		Suppression: config.SuppressionConfig{Store: constants.StoreMemory},
		Analytics:   config.AnalyticsConfig{Sink: constants.SinkNone},
	}

	if needs.Postgres {
		cfg.Database.Postgres = startPostgres(t, ctx)
	}
	if needs.Redis {
		cfg.Database.Redis = startRedis(t, ctx)
		cfg.Suppression.Store = constants.StoreRedis
	}
	if needs.Mongo {
		cfg.Database.MongoDB = startMongo(t, ctx)
		cfg.Analytics.Sink = constants.SinkMongoDB
	}

	stores, err := bootstrap.NewDatabaseConnector(cfg, createTestLogger()).Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close(context.Background()) })

	if needs.Mongo {
		require.NotNil(t, stores.Analytics, "mongo container started but analytics database is unavailable")
	}

	infra := &TestInfra{
		PostgresDB:  stores.Postgres,
		MongoDB:     stores.Analytics,
		RedisClient: stores.Redis,
	}
	if needs.Kafka {
		infra.KafkaBrokers = startKafka(t, ctx)
	}
	return infra
}

func terminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}

func endpoint(t *testing.T, ctx context.Context, c testcontainers.Container, port string) (string, int) {
	t.Helper()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	n, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return host, n
}

func startPostgres(t *testing.T, ctx context.Context) config.PostgresConfig {
	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase(testDatabase),
		postgresmodule.WithUsername(testUser),
		postgresmodule.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	terminateOnCleanup(t, container)

	host, port := endpoint(t, ctx, container, "5432/tcp")
	return config.PostgresConfig{
		Host:     host,
		Port:     port,
		User:     testUser,
		Password: testPassword,
		DBName:   testDatabase,
		SSLMode:  "disable",
	}
}

func startRedis(t *testing.T, ctx context.Context) config.RedisConfig {
	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	require.NoError(t, err, "failed to start redis container")
	terminateOnCleanup(t, container)

	host, port := endpoint(t, ctx, container, "6379/tcp")
	return config.RedisConfig{Host: host, Port: port}
}

func startMongo(t *testing.T, ctx context.Context) config.MongoDBConfig {
	container, err := mongodb.Run(ctx, "mongo:6",
		mongodb.WithUsername(testUser),
		mongodb.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err, "failed to start mongo container")
	terminateOnCleanup(t, container)

	host, port := endpoint(t, ctx, container, "27017/tcp")
	return config.MongoDBConfig{
		URI:      fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin", testUser, testPassword, host, port),
		Database: testDatabase,
	}
}

func startKafka(t *testing.T, ctx context.Context) []string {
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("hush-test"),
	)
	require.NoError(t, err, "failed to start kafka container")
	terminateOnCleanup(t, container)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "failed to get kafka brokers")
	return brokers
}
