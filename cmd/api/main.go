package main

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"microhub-redistribution-api/internal/cache"
	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/config"
	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/internal/handler"
	"microhub-redistribution-api/internal/middleware"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"
	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/internal/retry"
	"microhub-redistribution-api/internal/router"
	"microhub-redistribution-api/internal/service"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.MustLoad()
	setupLogger(cfg)
	log.Info().Str("env", cfg.App.Environment).Str("version", cfg.App.Version).Msg("starting redistribution API")

	ctx := context.Background()
	var checks []handler.ReadinessCheck

	// Cache for rankings and stored runs
	var appCache cache.Cache
	switch strings.ToLower(cfg.Cache.Type) {
	case "redis":
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Cache.RedisAddress()).Msg("failed to connect to redis")
		}
		appCache = redisCache
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Probe: func(ctx context.Context) error {
			_, err := redisCache.Exists(ctx, "ready")
			return err
		}})
	default:
		appCache = cache.NewMemoryCache()
	}
	defer appCache.Close()

	// Inventory snapshot source
	var (
		snapshot      repository.SnapshotSource
		inventoryRepo repository.InventoryRepository
		sqliteRepo    *repository.SQLiteRepository
	)
	switch strings.ToLower(cfg.InventoryDB.Source) {
	case "mongodb", "mongo":
		mongoRepo, err := repository.NewMongoDBInventoryRepository(
			cfg.InventoryDB.MongoURI,
			cfg.InventoryDB.MongoDatabase,
			cfg.InventoryDB.MongoCollection,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize MongoDB")
		}
		inventoryRepo = mongoRepo
	case "postgres", "postgresql":
		pgRepo, err := repository.NewPostgresInventoryRepository(cfg.InventoryDB.PostgresDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize PostgreSQL")
		}
		inventoryRepo = pgRepo
	case "sqlite":
		repo, err := openSQLite(cfg.InventoryDB.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize SQLite")
		}
		sqliteRepo = repo
		inventoryRepo = repo
	default:
		snapshot = repository.NewCSVSnapshot(cfg.InventoryDB.CSVPath)
		log.Info().Str("path", cfg.InventoryDB.CSVPath).Msg("using CSV inventory snapshot")
	}
	if inventoryRepo != nil {
		defer inventoryRepo.Close()
		snapshot = inventoryRepo
		repo := inventoryRepo
		checks = append(checks, handler.ReadinessCheck{Name: "inventory_db", Probe: func(ctx context.Context) error {
			_, err := repo.GetStats(ctx)
			return err
		}})
	}

	// Buyer directory, loaded once at startup
	var buyerSource directory.Source = directory.SeedSource{}
	switch strings.ToLower(cfg.Matching.BuyerSource) {
	case "mysql":
		db, err := openMySQL(cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MySQL buyer directory")
		}
		defer db.Close()
		buyerSource = repository.NewMySQLBuyerRepository(db)
	case "sqlite":
		if sqliteRepo == nil {
			repo, err := openSQLite(cfg.InventoryDB.Path)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to initialize SQLite buyer directory")
			}
			defer repo.Close()
			sqliteRepo = repo
		}
		buyerSource = sqliteRepo
	}

	dir, _, err := directory.Load(ctx, buyerSource)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load buyer directory")
	}
	log.Info().Strs("zones", dir.Zones()).Str("version", dir.Version()).Msg("buyer directory ready")

	// Matching engine
	seed := cfg.Matching.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info().Int64("seed", seed).Msg("random source seeded")
	rng := rand.New(rand.NewSource(seed))

	sysClock := clock.NewSystem()
	ranker := directory.NewRanker(dir, directory.WithCache(appCache, cfg.Cache.TTL))
	responder := outreach.NewSimulatedResponder(
		rand.New(rand.NewSource(rng.Int63())),
		outreach.WithAcceptProbability(cfg.Matching.AcceptProbability),
		outreach.WithLatency(cfg.Matching.MinLatency, cfg.Matching.MaxLatency),
	)
	dispatcher := outreach.NewDispatcher(responder,
		outreach.WithResponseTimeout(cfg.Matching.ResponseTimeout),
		outreach.WithMaxCandidates(cfg.Matching.MaxCandidates),
	)
	queue := retry.NewManager(ranker, dispatcher,
		retry.WithClock(sysClock),
		retry.WithMaxAttempts(cfg.Matching.MaxAttempts),
	)
	prices := pricing.NewRandomPrices(rand.New(rand.NewSource(rng.Int63())), pricing.DefaultMinPrice, pricing.DefaultMaxPrice)

	opts := []service.Option{
		service.WithClock(sysClock),
		service.WithExpiryWindow(cfg.Matching.ExpiryWindowDays),
		service.WithAutoEnqueue(cfg.Matching.AutoEnqueue),
		service.WithDefaultEscalation(cfg.Matching.Escalation),
		service.WithRunStore(service.NewRunStore(appCache, cfg.Matching.RunRetention)),
	}
	if snapshot != nil {
		opts = append(opts, service.WithSnapshotSource(snapshot))
	}
	svc := service.NewRedistributionService(ranker, dispatcher, prices, queue, opts...)

	// Background jobs
	var scheduler *service.Scheduler
	if cfg.Matching.RetryInterval > 0 || (cfg.InventoryDB.PurgeAfterDays > 0 && inventoryRepo != nil) {
		scheduler, err = service.NewScheduler(svc, inventoryRepo, service.SchedulerConfig{
			RetryInterval:  cfg.Matching.RetryInterval,
			Escalation:     cfg.Matching.Escalation,
			PurgeAfterDays: cfg.InventoryDB.PurgeAfterDays,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create scheduler")
		}
		scheduler.Start()
	}

	// HTTP
	var inventoryHandler *handler.InventoryHandler
	if inventoryRepo != nil {
		inventoryHandler = handler.NewInventoryHandler(inventoryRepo)
	}

	r := router.New(router.Config{
		Handler:               handler.New(cfg.App.Version, checks...),
		RedistributionHandler: handler.NewRedistributionHandler(svc, cfg.App.CurrencySymbol),
		RetryHandler:          handler.NewRetryHandler(svc),
		BuyerHandler:          handler.NewBuyerHandler(ranker, sysClock),
		InventoryHandler:      inventoryHandler,
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Service:       svc,
			Ranker:        ranker,
			Scheduler:     scheduler,
			InventoryRepo: inventoryRepo,
			SourceType:    cfg.InventoryDB.Source,
			CacheType:     cfg.Cache.Type,
		}),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			APIKeys: cfg.App.APIKeys,
		}),
	})
	if len(cfg.App.APIKeys) == 0 {
		log.Warn().Msg("API_KEYS is empty; authentication is disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown error")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Int("queued", queue.Len()).Msg("server stopped")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if cfg.App.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.App.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func openSQLite(path string) (*repository.SQLiteRepository, error) {
	repo, err := repository.NewSQLiteRepository(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("SQLite repository initialized")
	return repo, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("MySQL buyer repository initialized")
	return db, nil
}
