package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/logger"
	"hush/pkg/migrations"
	"hush/pkg/retry"
)

// connectPolicy rides out stores that start alongside the service.
var connectPolicy = retry.Policy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
}

// Stores are the connections the service was configured to use. Any of them
// may be nil.
type Stores struct {
	Postgres  *sql.DB
	Redis     *redis.Client
	Mongo     *mongo.Client
	Analytics *mongo.Database
}

func (s *Stores) Close(ctx context.Context) []error {
	var errs []error
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}
	return errs
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// Connect opens what the configuration asks for: Postgres when a host is
// set, Redis for the redis suppression store and MongoDB for the mongodb
// analytics sink. MongoDB only feeds analytics, so failing to reach it is
// logged and Analytics is left nil.
func (dc *DatabaseConnector) Connect(ctx context.Context) (*Stores, error) {
	stores := &Stores{}

	db, err := dc.InitPostgreSQL(ctx)
	if err != nil {
		return nil, err
	}
	stores.Postgres = db

	if db != nil && dc.Config.Database.RunMigrations {
		version, err := migrations.RunPostgres(db)
		if err != nil {
			stores.Close(ctx)
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		dc.Logger.InfowCtx(ctx, "PostgreSQL migrations applied", "version", version)
	}

	if dc.Config.Suppression.Store == constants.StoreRedis {
		rdb, err := dc.InitRedis(ctx)
		if err != nil {
			stores.Close(ctx)
			return nil, err
		}
		stores.Redis = rdb
	}

	if dc.Config.Analytics.Sink == constants.SinkMongoDB {
		mongoCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		client, err := dc.InitMongoDB(mongoCtx)
		if err != nil {
			dc.Logger.WarnwCtx(ctx, "MongoDB connection failed, continuing without analytics persistence", "error", err)
			return stores, nil
		}
		stores.Mongo = client

		if client != nil {
			analytics, err := dc.MongoDatabase(mongoCtx, client)
			if err != nil {
				dc.Logger.WarnwCtx(ctx, "MongoDB collections unavailable, continuing without analytics persistence", "error", err)
				return stores, nil
			}
			stores.Analytics = analytics
		}
	}

	return stores, nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	cfg := dc.Config.Database.Redis
	if cfg.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := dc.ping(ctx, "redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "Redis connected successfully")
	return rdb, nil
}

// PostgresDSN escapes the credentials, which may contain URL syntax.
func PostgresDSN(cfg config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.DBName,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// InitPostgreSQL connects without migrating. It returns nil when no host is
// configured; rules and channel overrides then live in memory.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	cfg := dc.Config.Database.Postgres
	if cfg.Host == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dc.ping(ctx, "postgresql", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected successfully")
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dc.Config.Database.MongoDB.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := dc.ping(ctx, "mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "MongoDB connected successfully")
	return client, nil
}

// MongoDatabase returns the configured analytics database with its
// collections and indexes in place.
func (dc *DatabaseConnector) MongoDatabase(ctx context.Context, client *mongo.Client) (*mongo.Database, error) {
	name := dc.Config.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	db := client.Database(name)
	if err := migrations.EnsureMongoCollections(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to prepare MongoDB collections: %w", err)
	}
	return db, nil
}

func (dc *DatabaseConnector) ping(ctx context.Context, store string, ping func(context.Context) error) error {
	return retry.RetryWithCallback(ctx, connectPolicy, func() error {
		return ping(ctx)
	}, func(attempt int, err error, next time.Duration) {
		dc.Logger.WarnwCtx(ctx, "Store not reachable yet, retrying",
			"store", store,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}
