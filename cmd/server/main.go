package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LHLHLHE/short-links/config"
	apprepository "github.com/LHLHLHE/short-links/internal/app/repository"
	appserver "github.com/LHLHLHE/short-links/internal/app/server"
	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/LHLHLHE/short-links/internal/app/shortcode"
	inthttp "github.com/LHLHLHE/short-links/internal/http/handler"
	"github.com/LHLHLHE/short-links/internal/http/middleware"
	httpUtil "github.com/LHLHLHE/short-links/internal/http/util"
	"github.com/LHLHLHE/short-links/internal/infra/logger"
	infraNATS "github.com/LHLHLHE/short-links/internal/infra/nats"
	infraPostgres "github.com/LHLHLHE/short-links/internal/infra/postgres"
	infraPrometheus "github.com/LHLHLHE/short-links/internal/infra/prometheus"
	infraRedis "github.com/LHLHLHE/short-links/internal/infra/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.MustInit(logger.Config{Development: os.Getenv("APP_ENV") != "production"}).
			Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.Config{
		Development: cfg.App.Development(),
		Level:       cfg.App.LogLevel,
		Service:     "short-links",
	})
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
	)

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	sqlDB := infraPostgres.OpenDB(pool)
	defer sqlDB.Close()

	if err := infraPostgres.Migrate(ctx, sqlDB, log); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	gormDB, err := infraPostgres.NewGorm(sqlDB)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	cache := infraRedis.NewCache(redisClient, cfg.Cache.Prefix)
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	if err := infraNATS.EnsureStreams(js); err != nil {
		log.Fatal("Failed to provision JetStream streams", zap.Error(err))
	}
	log.Info("Connected to NATS successfully")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infraPrometheus.NewMetrics(registry)

	linkRepo := apprepository.NewLinkRepository(gormDB)
	userRepo := apprepository.NewUserRepository(gormDB)

	codes := shortcode.New(shortcode.Options{
		Length:      cfg.Links.CodeLength,
		Attempts:    cfg.Links.CodeAttempts,
		Lookup:      linkRepo,
		OnCollision: metrics.Collision,
	})
	existing, err := linkRepo.ListAllCodes(ctx)
	if err != nil {
		log.Fatal("Failed to load existing short codes", zap.Error(err))
	}
	codes.Warm(existing)
	log.Info("Short code filter warmed", zap.Int("codes", len(existing)))

	linkService := service.NewLinkService(service.LinkDeps{
		Repo:        linkRepo,
		Codes:       codes,
		Invalidator: service.NewCacheInvalidator(cache, log, metrics, service.InvalidatorOptions{Retries: 2}),
		Events:      service.NewLinkEventPublisher(js),
		Logger:      log,
		Metrics:     metrics,
	})

	tokens := httpUtil.NewTokenSigner([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, login is disabled")
	}

	sweeper := service.NewSweeper(log, linkService, service.SweeperOptions{
		RetentionDays:  cfg.Links.UnusedTTLDays,
		ExpireInterval: cfg.Links.ExpireInterval,
		StaleInterval:  cfg.Links.StaleInterval,
	})
	sweepConsumer := service.NewSweepConsumer(js, log, sweeper)

	server := appserver.New(appserver.Dependencies{
		Logger:      log,
		LinkService: linkService,
		AuthService: service.NewAuthService(userRepo, tokens),
		Redis:       redisClient,
		RateLimit: middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
			KeyPrefix:   cfg.Cache.Prefix + ":ratelimit",
		},
		Cache: middleware.NewResponseCache(cache, log, map[string]time.Duration{
			service.NamespaceLinkStats:    cfg.Cache.StatsTTL,
			service.NamespaceSearchLink:   cfg.Cache.ListTTL,
			service.NamespaceMyLinks:      cfg.Cache.ListTTL,
			service.NamespaceExpiredLinks: cfg.Cache.ListTTL,
		}, infraRedis.ErrCacheMiss),
		Checks: map[string]inthttp.Check{
			"postgres": pool.Ping,
			"redis":    cache.Ping,
			"nats": func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return sweepConsumer.Run(gctx) })

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
		g.Go(func() error {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return promServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("addr", cfg.App.Addr))
		return server.Listen(cfg.App.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Server stopped with error", zap.Error(err))
		return
	}
	log.Info("Server stopped")
}
