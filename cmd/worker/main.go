package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"roomlens/internal/ai"
	"roomlens/internal/cache"
	"roomlens/internal/config"
	"roomlens/internal/database"
	"roomlens/internal/log"
	"roomlens/internal/media/frames"
	"roomlens/internal/pipeline"
	"roomlens/internal/queue"
	"roomlens/internal/repository"
	"roomlens/internal/service"
	"roomlens/internal/storage"
	"roomlens/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()

	var c cache.Cache = cache.Noop{}
	if cfg.Cache.Enabled {
		c = cache.NewWithClient(redisClient, cfg.Cache.MaxFailures, logger)
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}

	resourceRepo := repository.NewResourceRepository(dbPool)
	analysisRepo := repository.NewAnalysisRepository(dbPool)
	fixRepo := repository.NewFixRepository(dbPool)
	meteringRepo := repository.NewMeteringRepository(dbPool)
	strikeRepo := repository.NewStrikeRepository(dbPool)

	aiClient := ai.WithRetry(ai.NewHTTPClient(cfg.AI), cfg.AI.MaxRetries)
	extractor := frames.NewFFmpeg(objectStore.Client(), cfg.Storage.BucketFrames, cfg.Pipeline.FFmpegPath, logger)
	producer := queue.NewProducer(redisClient, cfg.Queue.Stream)
	metering := service.NewMeteringService(meteringRepo, logger)

	imagePipeline := pipeline.NewImagePipeline(
		resourceRepo, analysisRepo, objectStore,
		aiClient, c, cfg.Cache.TTL, logger,
	)
	videoPipeline := pipeline.NewVideoPipeline(
		resourceRepo, analysisRepo, objectStore, extractor,
		aiClient, c, cfg.Cache.TTL, cfg.Pipeline, logger,
	)
	fixService := service.NewFixService(
		resourceRepo, analysisRepo, fixRepo, strikeRepo,
		objectStore, metering, producer, aiClient, c, cfg, logger,
	)

	processor := tasks.NewProcessor(
		resourceRepo, fixRepo, strikeRepo,
		imagePipeline, videoPipeline, fixService,
		cfg.Pipeline.StaleJobAfter, logger,
	)
	consumer := queue.NewConsumer(
		redisClient,
		cfg.Queue.Stream,
		cfg.Queue.Group,
		cfg.Queue.Consumer,
		cfg.Queue.ClaimInterval,
		logger,
		processor,
	)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("consumer group init failed")
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	logger.Info().
		Str("stream", cfg.Queue.Stream).
		Str("group", cfg.Queue.Group).
		Str("consumer", cfg.Queue.Consumer).
		Msg("worker started")

	<-runCtx.Done()
	logger.Info().Msg("shutdown signal received")
	time.Sleep(500 * time.Millisecond)
}
