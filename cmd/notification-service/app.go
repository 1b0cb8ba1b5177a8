package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "hush/cmd/notification-service/docs"
	"hush/internal/analytics"
	"hush/internal/batching"
	"hush/internal/classification"
	"hush/internal/config"
	"hush/internal/config_handler"
	"hush/internal/constants"
	"hush/internal/dispatch"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/internal/management"
	"hush/internal/pipeline"
	"hush/internal/processor"
	"hush/internal/rules"
	"hush/internal/suppression"
	"hush/pkg/bootstrap"
	"hush/pkg/health"
	"hush/pkg/logging"
	"hush/pkg/metrics"
	"hush/pkg/migrations"
	"hush/pkg/middleware"
	"hush/pkg/models"
	"hush/pkg/ratelimit"
	"hush/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	configFile     string
	dbConnector    *bootstrap.DatabaseConnector
	stores         *bootstrap.Stores
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	tracerProvider *tracing.TracerProvider
	server         *http.Server
	health         *health.CheckerRegistry

	ruleRepo      rules.Repository
	rules         *rules.Engine
	store         suppression.Store
	suppressor    *suppression.Suppressor
	pipeline      *pipeline.Pipeline
	hasher        *event.Hasher
	batches       *batching.Engine
	batchRepo     batching.ConfigRepository
	recorder      *analytics.Recorder
	dispatcher    *dispatch.KafkaDispatcher
	outbox        *dispatch.Outbox
	processor     *processor.Processor
	configHandler *config_handler.Handler

	stopRecorder context.CancelFunc
	recorderDone chan struct{}
}

func NewApp(cfg *config.Config, configFile string, log logger.Logger) *App {
	if sl, ok := log.(*logger.SugaredLogger); ok {
		sl.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		configFile:  configFile,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceName)

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAll()

	kafkaCfg := a.Config.Broker.Kafka
	if err := a.InitBroker(constants.ServiceName, kafkaCfg.InputTopic, kafkaCfg.ConfigUpdateTopic); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initDecisionEngine(ctx); err != nil {
		return fmt.Errorf("failed to initialize decision engine: %w", err)
	}

	if err := a.initBatching(ctx); err != nil {
		return fmt.Errorf("failed to initialize batching: %w", err)
	}

	a.initHealth()

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	stores, err := a.dbConnector.Connect(ctx)
	if err != nil {
		return err
	}
	a.stores = stores
	a.db = stores.Postgres
	a.redis = stores.Redis
	a.mongoClient = stores.Mongo
	a.mongoDB = stores.Analytics
	return nil
}

func (a *App) initDecisionEngine(ctx context.Context) error {
	if a.db != nil {
		a.ruleRepo = rules.NewRepository(a.db)
	} else {
		a.Logger.WarnwCtx(ctx, "PostgreSQL not configured, rules are kept in memory only")
		a.ruleRepo = rules.NewMemoryRepository()
	}

	engine, err := rules.NewEngine(a.ruleRepo, a.Config.Filtering, a.Logger)
	if err != nil {
		return err
	}
	if err := engine.ReloadRules(ctx, true); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial rules", "error", err)
	}
	a.rules = engine

	store, err := suppression.NewStore(a.Config.Suppression, a.redis, a.Config.CircuitBreaker)
	if err != nil {
		return err
	}
	a.store = store
	a.suppressor = suppression.NewSuppressor(store, a.Config.Suppression, a.Logger)

	var sink analytics.Sink = analytics.NopSink{}
	if a.Config.Analytics.Sink == constants.SinkMongoDB {
		if a.mongoDB != nil {
			sink = analytics.NewMongoSink(a.mongoDB)
		} else {
			a.Logger.WarnwCtx(ctx, "Analytics sink is mongodb but MongoDB is unavailable, keeping counters only")
		}
	}
	a.recorder = analytics.NewRecorder(a.Config.Analytics, sink, a.Logger)

	a.hasher = event.NewHasher(a.Config.Suppression.HashAlgorithm, a.Config.Suppression.ContentFields)
	classifier := classification.NewClassifier(classification.WithMinorFields(a.Config.Filtering.MinorFields))
	a.pipeline = pipeline.New(classifier, engine, a.suppressor, a.Config.Filtering, a.Logger,
		pipeline.WithRecorder(a.recorder),
	)
	return nil
}

func (a *App) initBatching(ctx context.Context) error {
	a.dispatcher = dispatch.NewKafkaDispatcher(a.Producer, a.Config.Broker.Kafka, a.Logger,
		dispatch.WithFlushRecorder(a.recorder),
	)
	a.outbox = dispatch.NewOutbox(a.dispatcher, a.Logger)

	// the sweeper hands batches to the processor, which exists only after
	// the engine
	a.batches = batching.NewEngine(a.Config.Batching, a.Logger,
		batching.WithReadyHandler(func(ctx context.Context, b batching.ReadyBatch) {
			a.processor.HandleReady(ctx, b)
		}),
	)
	a.processor = processor.New(a.hasher, a.pipeline, a.batches, a.outbox, a.Logger)

	if a.db != nil {
		a.batchRepo = batching.NewConfigRepository(a.db)
	} else {
		a.batchRepo = batching.NewMemoryConfigRepository()
	}
	if err := a.batches.LoadChannelConfigs(ctx, a.batchRepo); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load channel batch configs", "error", err)
	}

	a.configHandler = config_handler.NewHandler(a.Logger).
		WithRuleReloader(a.rules).
		WithBatchConfig(a.batchRepo, a.batches)
	return nil
}

func (a *App) initHealth() {
	if a.db != nil {
		a.health.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		redisCheck := health.NewRedisChecker(a.redis)
		// failing open keeps events flowing without redis
		if a.Config.Suppression.OnStoreError != constants.FallbackDeny {
			redisCheck = health.Optional(redisCheck)
		}
		a.health.Register(redisCheck)
	}
	if a.mongoClient != nil {
		a.health.Register(health.Optional(health.NewMongoDBChecker(a.mongoClient)))
	}

	if cb, ok := a.store.(*suppression.CircuitBreakerStore); ok {
		a.health.Register(health.CheckerFunc{
			CheckName: "suppression_store",
			Fn: func(context.Context) error {
				if cb.Open() {
					return health.Degraded("%s store circuit breaker is open", cb.Name())
				}
				return nil
			},
		})
	}

	a.health.Register(health.CheckerFunc{
		CheckName: "dispatch_outbox",
		Fn: func(context.Context) error {
			if n := a.outbox.Pending(); n > 0 {
				return health.Degraded("%d batches waiting for redelivery", n)
			}
			return nil
		},
	})

	a.health.Register(health.CheckerFunc{
		CheckName: "rules",
		Fn: func(context.Context) error {
			if a.rules.RuleCount() == 0 {
				return health.Degraded("no rules loaded, every event takes the default path")
			}
			return nil
		},
	})
}

func (a *App) initHTTPServer(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.Middleware(constants.ServiceName))
	}

	router.Use(middleware.Recovery(a.Logger))
	router.Use(middleware.Identity())
	router.Use(middleware.AccessLog(a.Logger, "/health", "/metrics"))

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromSettings(a.Config.Management.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	opts := []management.ServiceOption{
		management.WithBatching(a.batches, a.batchRepo, a.outbox),
		management.WithEvaluator(a.pipeline, a.hasher),
		management.WithStats(a.recorder),
	}
	if a.db != nil {
		opts = append(opts, management.WithVersioning(management.NewVersioningRepository(a.db)))
	}
	if a.mongoDB != nil {
		opts = append(opts, management.WithDecisionLog(analytics.NewMongoDecisionLog(a.mongoDB)))
	}
	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		opts = append(opts, management.WithBroadcaster(management.NewConfigBroadcaster(a.Producer, topic)))
	}

	svc := management.NewService(a.ruleRepo, a.rules, a.Logger, opts...)
	management.NewHandler(svc, a.Logger).RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		h := a.health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceName)

	// the recorder outlives the errgroup so the shutdown flush is recorded
	recorderCtx, stop := context.WithCancel(context.Background())
	a.stopRecorder = stop
	a.recorderDone = make(chan struct{})
	go func() {
		defer close(a.recorderDone)
		a.recorder.Run(recorderCtx)
	}()

	if a.configFile != "" {
		config.WatchHot(a.configFile, a.Config, func(err error) {
			a.Logger.WarnwCtx(ctx, "Config reload rejected", "error", err)
		}, a.applyHotConfig)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	kafkaCfg := a.Config.Broker.Kafka
	if consumer, ok := a.Consumers[kafkaCfg.ConfigUpdateTopic]; ok {
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", kafkaCfg.ConfigUpdateTopic)
			return consumer.Consume(gCtx, kafkaCfg.ConfigUpdateTopic, func(cCtx context.Context, msg models.MessageEnvelope) error {
				return a.configHandler.HandleConfigUpdateEvent(cCtx, msg)
			})
		})
	}

	if consumer, ok := a.Consumers[kafkaCfg.InputTopic]; ok {
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting notification event consumer", "topic", kafkaCfg.InputTopic)
			return consumer.Consume(gCtx, kafkaCfg.InputTopic, a.processor.HandleMessage)
		})
	}

	g.Go(func() error {
		return a.rules.StartReloader(gCtx)
	})
	g.Go(func() error {
		return a.batches.StartSweeper(gCtx)
	})
	g.Go(func() error {
		return a.outbox.Run(gCtx)
	})

	return g.Wait()
}

// applyHotConfig takes thresholds and the log level from a changed config
// file. Open groups keep the thresholds they were created with.
func (a *App) applyHotConfig(hot config.Hot) {
	ctx := logging.WithServiceName(context.Background(), constants.ServiceName)
	batchingCfg := hot.Batching
	if err := a.batches.UpdateDefaults(batchingCfg); err != nil {
		a.Logger.WarnwCtx(ctx, "Rejected batching config change", "error", err)
	} else {
		a.Logger.InfowCtx(ctx, "Batching defaults updated",
			"max_batch_size", batchingCfg.MaxBatchSize,
			"max_batch_age", batchingCfg.MaxBatchAge,
		)
	}
	a.suppressor.UpdateConfig(hot.Suppression)

	if sl, ok := a.Logger.(*logger.SugaredLogger); ok && hot.LogLevel != "" && hot.LogLevel != sl.Level() {
		if err := sl.SetLevel(hot.LogLevel); err != nil {
			a.Logger.WarnwCtx(ctx, "Rejected log level change", "level", hot.LogLevel, "error", err)
		} else {
			a.Logger.InfowCtx(ctx, "Log level changed", "level", hot.LogLevel)
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(ctx, "Shutting down notification service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()

		if a.server != nil {
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.batches != nil && a.outbox != nil {
			pending := a.batches.Shutdown(shutdownCtx)
			if err := a.outbox.SendBatches(shutdownCtx, pending); err != nil {
				errs = append(errs, fmt.Errorf("pending batch dispatch error: %w", err))
			}
			if err := a.outbox.Drain(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("parked batch drain error: %w", err))
			}
			a.Logger.InfowCtx(ctx, "Flushed pending batches", "batches", len(pending))
		}

		if a.stopRecorder != nil {
			a.stopRecorder()
			select {
			case <-a.recorderDone:
			case <-shutdownCtx.Done():
				errs = append(errs, fmt.Errorf("analytics recorder did not drain in time"))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		if a.stores != nil {
			errs = append(errs, a.stores.Close(ctx)...)
		}
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

// migrate brings the schemas up to date without starting the service.
func migrate(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	dc := bootstrap.NewDatabaseConnector(cfg, log)
	stores := &bootstrap.Stores{}
	defer func() {
		for _, err := range stores.Close(ctx) {
			log.WarnwCtx(ctx, "Close failed after migration", "error", err)
		}
	}()

	db, err := dc.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	stores.Postgres = db
	if db == nil {
		log.WarnwCtx(ctx, "PostgreSQL not configured, skipping SQL migrations")
	} else {
		version, err := migrations.RunPostgres(db)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.InfowCtx(ctx, "PostgreSQL migrations applied", "version", version)
	}

	client, err := dc.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	stores.Mongo = client
	if client != nil {
		if _, err := dc.MongoDatabase(ctx, client); err != nil {
			return err
		}
		log.InfowCtx(ctx, "MongoDB collections ensured")
	}
	return nil
}
