package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/admin"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/aggregate"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/config"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/pipeline"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/price"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/queue"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.GetPostgresConnectionString(), logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}

	jobs := queue.New(db.Pool(), queue.Options{
		LockDuration:     time.Duration(cfg.Queue.LockDurationSeconds) * time.Second,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		BackoffBase:      time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		KeepCompleted:    cfg.Queue.KeepCompleted,
		KeepCompletedFor: time.Duration(cfg.Queue.CompletedRetentionHours) * time.Hour,
		KeepFailed:       cfg.Queue.KeepFailed,
		KeepFailedFor:    time.Duration(cfg.Queue.FailedRetentionHours) * time.Hour,
	}, logger)

	prices := price.NewCache(db, 0, nil)
	refresher := aggregate.New(db, logger, prices)

	pl := pipeline.New(db, jobs, refresher, logger, pipeline.Options{
		ChunkSize:       cfg.Pipeline.ChunkSize,
		MatchWindowDays: cfg.Pipeline.MatchWindowDays,
	})

	worker := queue.NewWorker(jobs, queue.WorkerOptions{
		Concurrency:  cfg.Worker.Concurrency,
		RatePerSec:   float64(cfg.Worker.RatePerSecond),
		PollInterval: time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
	}, pl.MarkBatchFailed, logger)

	worker.Handle(queue.JobProcessNewUpload, func(ctx context.Context, j *queue.Job) error {
		return pl.ProcessFundUpload(ctx, j.Payload.BatchID, j.Payload.FilePath)
	})
	worker.Handle(queue.JobResumeAfterApproval, func(ctx context.Context, j *queue.Job) error {
		return pl.ResumeAfterApproval(ctx, j.Payload.BatchID, j.Payload.FilePath)
	})
	worker.Handle(queue.JobProcessBankUpload, func(ctx context.Context, j *queue.Job) error {
		return pl.ProcessBankUpload(ctx, j.Payload.BatchID, j.Payload.FilePath)
	})

	server := admin.NewServer(db, pl, jobs, prices, logger)
	if err := server.Start(cfg.Service.AdminPort); err != nil {
		logger.Fatal("failed to start admin server", zap.Error(err))
	}

	logger.Info("fund reconciliation processor started",
		zap.String("service", cfg.Service.Name),
		zap.Int("admin_port", cfg.Service.AdminPort),
		zap.Int("worker_concurrency", cfg.Worker.Concurrency))

	// Blocks until a shutdown signal cancels the context.
	worker.Run(ctx)

	if err := server.Stop(); err != nil {
		logger.Warn("admin server stop", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
