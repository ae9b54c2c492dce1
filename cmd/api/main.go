package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DrPeryCox/pres-gen-new/internal/config"
	"github.com/DrPeryCox/pres-gen-new/internal/deck"
	"github.com/DrPeryCox/pres-gen-new/internal/httpapi"
	"github.com/DrPeryCox/pres-gen-new/internal/httpapi/handlers"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/shutdown"
	"github.com/DrPeryCox/pres-gen-new/internal/storage"
	"github.com/DrPeryCox/pres-gen-new/internal/worker/queue"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to presgen.toml")
	flag.Parse()

	cfg, cfgPath, cfgFound, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	// Initialize logger
	log := logger.New(cfg.LoggerConfig("presgen-api", os.Stdout))
	log.Info("starting presgen API",
		"version", version,
		"config", cfgPath,
		"config_found", cfgFound,
	)

	ctx := context.Background()

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, shutdown.DefaultTimeout)

	if err := cfg.EnsureDirectories(); err != nil {
		log.LogFatal("failed to create directories", err)
	}

	// Open job store
	log.Info("opening job store", "driver", cfg.Store.Driver)
	store, err := jobs.Open(ctx, cfg.Store, log)
	if err != nil {
		log.LogFatal("failed to open job store", err)
	}
	shutdownMgr.RegisterCloser("store", store)

	// Connect to Redis
	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
	shutdownMgr.RegisterCloser("redis", rdb)

	// Verify Redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	// Initialize storage provider
	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Create HTTP router
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Store:          store,
			Queue:          queue.NewRedisQueue(rdb, cfg.Queue.Name),
			SP:             sp,
			Deck:           deck.NewBuilder(log),
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Version:        version,
		},
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout(),
		Log:            log,
	})

	// Create HTTP server. Uploads of large narration clips take a while, so
	// there is no read timeout on the body.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Register server shutdown
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	// Start server in goroutine
	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	// Wait for shutdown signal
	if err := shutdownMgr.Wait(ctx); err != nil {
		os.Exit(1)
	}
}
