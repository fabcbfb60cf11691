package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ledgergate/ledgergate/internal/api"
	"github.com/ledgergate/ledgergate/internal/cache"
	"github.com/ledgergate/ledgergate/internal/config"
	"github.com/ledgergate/ledgergate/internal/crypto"
	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/logqueue"
	"github.com/ledgergate/ledgergate/internal/notify"
	"github.com/ledgergate/ledgergate/internal/router"
	"github.com/ledgergate/ledgergate/internal/secrets"
	"github.com/ledgergate/ledgergate/internal/store"
	"github.com/ledgergate/ledgergate/internal/telemetry"
	"github.com/ledgergate/ledgergate/internal/upstream"
	"github.com/ledgergate/ledgergate/internal/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("starting ledgergate", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, "ledgergate", cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	// Secret-typed config values may point at Secrets Manager.
	if cfg.AWSRegion != "" {
		resolver, err := secrets.NewResolver(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Error("failed to init secrets resolver", "error", err)
			os.Exit(1)
		}
		for _, v := range []*string{&cfg.DatabaseURL, &cfg.RedisURL, &cfg.EncryptionKey} {
			resolved, err := resolver.Resolve(ctx, *v)
			if err != nil {
				logger.Error("failed to resolve secret", "error", err)
				os.Exit(1)
			}
			*v = resolved
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to redis")
	}

	var checkers []api.HealthChecker
	var db *sql.DB
	var st *store.Store

	switch {
	case cfg.DatabaseURL != "":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		var sealer *crypto.Sealer
		if cfg.EncryptionKey != "" {
			sealer = crypto.NewSealer(cfg.EncryptionKey)
		}
		st = store.NewPostgres(db, sealer).Store()
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		logger.Info("using postgres store")
	case cfg.DevMode:
		mem := store.NewMemory()
		seedDevData(mem, logger)
		st = mem.Store()
		logger.Info("using in-memory store", "dev_mode", true)
	default:
		logger.Error("DATABASE_URL is required outside dev mode")
		os.Exit(1)
	}
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisHealthChecker(redisClient))
	}

	// Routing entities change rarely; the read-through cache keeps the hot
	// path off the database.
	st = store.NewCached(st, store.CachedConfig{})

	queue, err := buildQueue(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build log queue", "error", err)
		os.Exit(1)
	}

	var responseCache cache.Cache
	if redisClient != nil {
		responseCache = cache.NewRedis(redisClient)
		logger.Info("using redis cache")
	} else {
		responseCache = cache.NewMemory()
		logger.Info("using in-memory cache")
	}

	var bedrockCaller upstream.Caller
	if cfg.BedrockEnabled {
		bc, err := upstream.NewBedrockCaller(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Error("failed to init bedrock", "error", err)
			os.Exit(1)
		}
		bedrockCaller = bc
		logger.Info("bedrock enabled", "region", cfg.AWSRegion)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.BillingTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("failed to load aws config", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewSNSNotifier(sns.NewFromConfig(awsCfg), cfg.BillingTopicARN)
		logger.Info("billing notifications enabled", "topic", cfg.BillingTopicARN)
	}

	billing := worker.New(worker.Config{
		BatchSize:            cfg.WorkerBatchSize,
		PollInterval:         cfg.WorkerPollInterval,
		ServiceFeeMultiplier: cfg.ServiceFeeMultiplier,
		TopUpCooldown:        cfg.TopUpCooldown,
	}, queue, st, nil, notifier, logger)
	go billing.Run(ctx)

	handler := api.NewHandler(api.HandlerConfig{
		Router:  router.New(st),
		Callers: upstream.NewSet(bedrockCaller),
		Queue:   queue,
		Cache:   responseCache,
		Logger:  logger,
	})
	handler.Mount("GET /health", api.HealthHandler(5*time.Second, checkers...))
	handler.Mount("GET /health/ready", api.HealthHandler(5*time.Second, checkers...))

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streamed completions can outlive any fixed limit.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop the worker after the server so in-flight requests can still
	// enqueue, then give it one last drain.
	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := billing.ProcessOnce(drainCtx); err != nil {
		logger.Error("final queue drain", "error", err)
	}
	drainCancel()

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("server stopped")
}

func buildQueue(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (logqueue.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		logger.Info("using sqs log queue", "queue_url", cfg.SQSQueueURL)
		return logqueue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL), nil
	case "memory":
		logger.Info("using in-memory log queue")
		return logqueue.NewMemoryQueue(), nil
	default:
		if redisClient == nil {
			logger.Info("no redis configured, using in-memory log queue")
			return logqueue.NewMemoryQueue(), nil
		}
		logger.Info("using redis log queue")
		return logqueue.NewRedisQueue(redisClient, cfg.QueueKey), nil
	}
}

// seedDevData loads a throwaway tenant so the gateway answers requests out
// of the box with DEV_MODE=true.
func seedDevData(mem *store.Memory, logger *slog.Logger) {
	now := time.Now()
	mem.AddOrganization(&domain.Organization{
		ID:      "org-dev",
		Credits: 100,
	})
	mem.AddProject(&domain.Project{
		ID:             "proj-dev",
		OrganizationID: "org-dev",
		Mode:           domain.CreditsMode,
		CachingEnabled: true,
		CacheDuration:  5 * time.Minute,
	})
	mem.AddAPIKey(&domain.APIKey{
		ID:        "key-dev",
		Token:     "dev-key",
		ProjectID: "proj-dev",
		Active:    true,
		CreatedAt: now,
	})
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		mem.AddProviderKey(&domain.ProviderKey{
			ID:             "pk-dev-openai",
			Provider:       "openai",
			Token:          openaiKey,
			ProjectID:      "proj-dev",
			OrganizationID: "org-dev",
			Active:         true,
			CreatedAt:      now,
		})
	}
	logger.Info("seeded dev tenant", "api_key", "dev-key")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
