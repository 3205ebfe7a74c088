package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pincollector/internal/blobstore"
	"pincollector/internal/ingest"
	"pincollector/internal/models"
	"pincollector/internal/queue"
	"pincollector/internal/server"
	"pincollector/internal/storage"
	"pincollector/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("pincollector stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(cfg *models.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewStorage(ctx, logger.Named("storage"), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs := blobstore.NewFS(cfg.StoragePath)
	for _, container := range []string{cfg.ImageContainer, cfg.ThumbnailContainer} {
		if err := blobs.EnsureContainer(container); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewMetrics(registry)

	// Kafka when configured, otherwise an in-process worker pool.
	var (
		dispatcher workflow.Dispatcher
		execute    func(context.Context, workflow.Handler) error
	)
	if cfg.KafkaBroker != "" {
		producer := queue.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic)
		defer producer.Close()
		consumer := queue.NewConsumer(logger.Named("queue"), cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroup)
		dispatcher, execute = producer, consumer.Run
	} else {
		pool := workflow.NewPool(logger.Named("pool"), cfg.Workflow.Workers, 1024, cfg.Workflow.MaxBackoff)
		dispatcher, execute = pool, pool.Run
	}

	steps := workflow.NewSteps(workflow.StepConfig{
		PartitionKey:       cfg.PartitionKey,
		ImageContainer:     cfg.ImageContainer,
		ThumbnailContainer: cfg.ThumbnailContainer,
		ThumbnailWidth:     cfg.ThumbnailWidth,
	}, db, blobs)
	engine := workflow.NewEngine(logger.Named("workflow"), db, steps, dispatcher, workflow.RetryPolicy{
		MaxAttempts:    cfg.Workflow.MaxAttempts,
		InitialBackoff: cfg.Workflow.InitialBackoff,
		MaxBackoff:     cfg.Workflow.MaxBackoff,
	}, metrics)

	service := ingest.NewService(logger.Named("ingest"), ingest.Config{
		PartitionKey:       cfg.PartitionKey,
		ImageContainer:     cfg.ImageContainer,
		ThumbnailContainer: cfg.ThumbnailContainer,
	}, engine, db, blobs)
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.NewServer(logger.Named("server"), cfg.ServerAddr, service, registry)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return execute(gctx, engine.Resume)
	})
	group.Go(func() error {
		if err := engine.Recover(gctx); err != nil {
			logger.Warn("workflow recovery incomplete", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.ServerAddr))
		return srv.Start()
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("shutdown complete")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
