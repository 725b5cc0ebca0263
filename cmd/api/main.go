package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/analyzer"
	"github.com/iago/risk-reanalysis/internal/analyzer/distributions"
	"github.com/iago/risk-reanalysis/internal/cache"
	"github.com/iago/risk-reanalysis/internal/config"
	"github.com/iago/risk-reanalysis/internal/domain"
	httpserver "github.com/iago/risk-reanalysis/internal/http"
	"github.com/iago/risk-reanalysis/internal/http/handlers"
	"github.com/iago/risk-reanalysis/internal/logger"
	"github.com/iago/risk-reanalysis/internal/queue"
	"github.com/iago/risk-reanalysis/internal/repository"
	"github.com/iago/risk-reanalysis/internal/scheduler"
	"github.com/iago/risk-reanalysis/internal/service"
	"github.com/iago/risk-reanalysis/internal/worker"
)

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if dotenvErr != nil {
		log.Warn().Err(dotenvErr).Msg("failed loading .env files")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	rules, err := config.LoadRiskRules(cfg.RiskRulesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RiskRulesPath).Msg("failed loading risk rules")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := setupStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed initializing store")
	}
	defer store.close()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, log)
	defer queueCloser()

	trustAnalyzer := distributions.NewAnalyzer(rules)
	registry := analyzer.NewRegistry()
	registry.Register(domain.AnalysisTrustDistributions, analyzer.Bind[domain.DistributionRecord, domain.DistributionAnalysis](
		store.records, trustAnalyzer.Analyze, trustAnalyzer.Measure,
	))

	previous := cache.NewResultCache(store.results, cache.Config{
		TTL:        cfg.ResultCacheTTL,
		MaxEntries: cfg.ResultCacheMaxEntries,
	})
	retry := worker.NewRetryController(store.jobs, log)
	dispatcher := worker.NewDispatcher(store.jobs, store.results, previous, registry, retry, worker.DispatcherConfig{
		BatchSize: cfg.DrainBatchSize,
	}, log)

	jobsService := service.NewJobsService(store.jobs, producer)

	var drainer handlers.Drainer
	if cfg.WorkerEnabled {
		drainer = dispatcher

		trigger := worker.NewTriggerConsumer(consumer, jobsService, log)
		go trigger.Start(ctx)

		sched := scheduler.New(cfg.DrainTimeout, log)
		if err := sched.AddJob(cfg.DrainSchedule, scheduler.NewDrainJob(dispatcher, cfg.DrainBatchSize, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.DrainSchedule).Msg("invalid drain schedule")
		}
		if err := sched.AddJob(cfg.StuckSweepSchedule, scheduler.NewStuckJobSweep(store.jobs, cfg.StuckJobMaxAge, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.StuckSweepSchedule).Msg("invalid stuck sweep schedule")
		}
		sched.Start()
		defer sched.Stop()

		log.Info().
			Str("drain_schedule", cfg.DrainSchedule).
			Int("drain_batch_size", cfg.DrainBatchSize).
			Strs("analysis_types", analysisTypeNames(registry)).
			Msg("worker enabled and started")
	} else {
		log.Info().Msg("worker disabled by configuration")
	}

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(jobsService, drainer),
		Logger:         log,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.DrainTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

type stores struct {
	jobs    repository.JobsRepository
	results repository.ResultsRepository
	records analyzer.Source[domain.DistributionRecord]
	close   func()
}

func setupStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores{}, err
		}
		if cfg.DatabaseMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return stores{}, err
			}
		}
		log.Info().Msg("postgres store initialized")
		return stores{jobs: pg, results: pg, records: pg, close: pg.Close}, nil

	case config.StoreSQLite:
		lite, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store initialized")
		return stores{jobs: lite, results: lite, records: lite, close: func() { _ = lite.Close() }}, nil

	default:
		log.Warn().Msg("using in-memory store, jobs are lost on restart")
		return stores{
			jobs:    repository.NewMemoryJobsRepository(),
			results: repository.NewMemoryResultsRepository(),
			records: repository.NewMemoryDistributionSource(),
			close:   func() {},
		}, nil
	}
}

func setupQueue(ctx context.Context, cfg config.Config, log zerolog.Logger) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		log.Info().Msg("REDIS_ADDR not configured, using local event queue")
		local := queue.NewLocalQueue(512, cfg.EventMaxAttempts, log)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.EventMaxAttempts,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize redis streams queue, falling back to local")
			local := queue.NewLocalQueue(512, cfg.EventMaxAttempts, log)
			baseProducer = local
			consumer = local
		} else {
			log.Info().Str("stream", cfg.RedisStream).Str("group", cfg.RedisGroup).Msg("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      cfg.QueueBatchFlush,
			FlushTimeout:       cfg.QueueBatchFlushTimeout,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		log.Info().
			Int("size", cfg.QueueBatchSize).
			Dur("flush", cfg.QueueBatchFlush).
			Int("queue_capacity", cfg.QueueBatchQueueCapacity).
			Int("max_in_flight", cfg.QueueBatchMaxInFlight).
			Msg("event batching enabled")
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

func analysisTypeNames(registry *analyzer.Registry) []string {
	types := registry.Types()
	names := make([]string, 0, len(types))
	for _, analysisType := range types {
		names = append(names, string(analysisType))
	}
	return names
}
