package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/config"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/usecase"
	psqlRepo "github.com/zhiyang446/musictabapp-codex/internal/repository/psql"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/rabbitmq"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/redis"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/s3"
	"github.com/zhiyang446/musictabapp-codex/internal/transcriber"
	"github.com/zhiyang446/musictabapp-codex/pkg/client/psql"
	redisGo "github.com/zhiyang446/musictabapp-codex/pkg/client/redis"
	s3ClientGo "github.com/zhiyang446/musictabapp-codex/pkg/client/s3"
	"github.com/zhiyang446/musictabapp-codex/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.DispatchMode != config.DispatchRabbitMQ {
		log.Fatal().Str("mode", cfg.DispatchMode).Msg("worker requires DISPATCH_MODE=rabbitmq")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	redisClient, err := redisGo.NewRedisClient(ctx, redisGo.Config{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	db, err := psql.NewPostgresDB(cfg.PSQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := psqlRepo.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	s3Client, err := s3ClientGo.NewS3Client(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init s3 client")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer conn.Close()

	publisher, err := rabbitmq.NewRabbitPublisher(conn, rabbitmq.DefaultExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init publisher")
	}
	defer publisher.Close()

	var engine usecase.Engine = transcriber.NewPlaceholder()
	if cfg.TranscriberBin != "" {
		engine = transcriber.NewCommand(cfg.TranscriberBin)
		log.Info().Str("bin", cfg.TranscriberBin).Msg("using external transcriber")
	}

	pipeline := usecase.NewPipelineUseCase(
		psqlRepo.NewGormJobRepo(db),
		psqlRepo.NewGormEventRepo(db),
		psqlRepo.NewGormAssetRepo(db),
		s3.NewS3Repo(s3Client),
		engine,
		publisher,
		redis.NewRedisRepo(redisClient),
	)
	worker := usecase.NewWorker(pipeline, publisher, usecase.RetryPolicy{
		MaxAttempts: cfg.PipelineMaxAttempts,
		BaseDelay:   cfg.PipelineBaseDelay,
		MaxDelay:    cfg.PipelineMaxDelay,
	})

	var wg sync.WaitGroup
	for _, task := range entity.Tasks {
		consumer, err := rabbitmq.NewTaskConsumer(conn, rabbitmq.DefaultExchange, task, worker, cfg.WorkerPrefetch)
		if err != nil {
			log.Fatal().Err(err).Str("task", string(task)).Msg("failed to init consumer")
		}
		defer consumer.Close()

		wg.Add(1)
		go func(task entity.TaskName) {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Str("task", string(task)).Msg("consumer stopped with error")
				cancel()
			}
		}(task)
	}

	log.Info().Int("queues", len(entity.Tasks)).Msg("worker started")
	select {
	case <-sigCh:
		log.Info().Msg("shutting down worker")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}
