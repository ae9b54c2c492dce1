package main

import (
	"context"
	"flag"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/DrPeryCox/pres-gen-new/internal/config"
	"github.com/DrPeryCox/pres-gen-new/internal/deck"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/shutdown"
	"github.com/DrPeryCox/pres-gen-new/internal/storage"
	"github.com/DrPeryCox/pres-gen-new/internal/transcode"
	"github.com/DrPeryCox/pres-gen-new/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to presgen.toml")
	flag.Parse()

	cfg, cfgPath, _, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(cfg.LoggerConfig("presgen-worker", os.Stdout))
	log.Info("starting presgen worker", "config", cfgPath)

	shutdownMgr := shutdown.NewManager(log, shutdown.DefaultTimeout)
	ctx := shutdownMgr.Context()

	if err := cfg.EnsureDirectories(); err != nil {
		log.LogFatal("failed to create directories", err)
	}

	opts := cfg.TranscodeOptions()
	if missing := transcode.MissingRequired(transcode.CheckBinaries(opts.Requirements())); len(missing) > 0 {
		for _, m := range missing {
			log.Error("required binary not found", "binary", m.Name, "command", m.Command, "detail", m.Detail)
		}
		os.Exit(1)
	}

	store, err := jobs.Open(ctx, cfg.Store, log)
	if err != nil {
		log.LogFatal("failed to open job store", err)
	}
	shutdownMgr.RegisterCloser("store", store)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
	shutdownMgr.RegisterCloser("redis", rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	media := transcode.New(transcode.NewExecInvoker(log), opts, log)
	orchestrator := pipeline.New(cfg.PipelineConfig(), media, pipeline.PageCounterFunc(deck.PageCount), log)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx, worker.Deps{
			Store:         store,
			RDB:           rdb,
			QueueName:     cfg.Queue.Name,
			SP:            sp,
			Assembler:     orchestrator,
			WorkRoot:      cfg.Worker.WorkRoot,
			KeepSources:   cfg.Worker.KeepSources,
			JobTimeout:    cfg.JobTimeout(),
			PopTimeout:    cfg.PopTimeout(),
			StaleMaxAge:   cfg.StaleWorkMaxAge(),
			SweepInterval: cfg.StaleSweepInterval(),
			WorkerID:      cfg.Worker.ID,
			Lease:         cfg.Lease(),
			Log:           log,
		})
	}()

	// The worker loop is stopped first so no job starts while the store and
	// Redis are closing.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err := shutdownMgr.Wait(context.Background()); err != nil {
		os.Exit(1)
	}
}
