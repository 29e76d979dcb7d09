package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	v1 "github.com/zhiyang446/musictabapp-codex/internal/controller/http/v1"
	"github.com/zhiyang446/musictabapp-codex/internal/config"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/usecase"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/inline"
	psqlRepo "github.com/zhiyang446/musictabapp-codex/internal/repository/psql"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/rabbitmq"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/redis"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/s3"
	"github.com/zhiyang446/musictabapp-codex/internal/transcriber"
	"github.com/zhiyang446/musictabapp-codex/pkg/auth"
	"github.com/zhiyang446/musictabapp-codex/pkg/client/psql"
	redisGo "github.com/zhiyang446/musictabapp-codex/pkg/client/redis"
	s3ClientGo "github.com/zhiyang446/musictabapp-codex/pkg/client/s3"
	"github.com/zhiyang446/musictabapp-codex/pkg/logger"
	"github.com/zhiyang446/musictabapp-codex/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.JWKSURL == "" {
		log.Fatal().Msg("JWKS_URL is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	jobRepo := psqlRepo.NewGormJobRepo(db)
	eventRepo := psqlRepo.NewGormEventRepo(db)
	assetRepo := psqlRepo.NewGormAssetRepo(db)
	redisRepo := redis.NewRedisRepo(redisClient)

	s3Client, err := s3ClientGo.NewS3Client(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init s3 client")
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare bucket")
	}
	s3Repo := s3.NewS3Repo(s3Client)

	policy := usecase.RetryPolicy{
		MaxAttempts: cfg.PipelineMaxAttempts,
		BaseDelay:   cfg.PipelineBaseDelay,
		MaxDelay:    cfg.PipelineMaxDelay,
	}

	var dispatcher usecase.Dispatcher
	switch cfg.DispatchMode {
	case config.DispatchInline:
		d := inline.NewDispatcher()
		d.Async = true
		var engine usecase.Engine = transcriber.NewPlaceholder()
		if cfg.TranscriberBin != "" {
			engine = transcriber.NewCommand(cfg.TranscriberBin)
		}
		pipeline := usecase.NewPipelineUseCase(jobRepo, eventRepo, assetRepo, s3Repo, engine, d, redisRepo)
		d.Bind(usecase.NewWorker(pipeline, d, policy))
		defer d.Wait()
		dispatcher = d
		log.Warn().Msg("running pipeline in-process (DISPATCH_MODE=inline)")
	default:
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
		dispatcher = publisher
	}

	gate := auth.NewGate(auth.NewKeyCache(cfg.JWKSURL, cfg.JWKSCacheTTL, nil), cfg.JWTAudience, cfg.JWTIssuer)

	jobUC := usecase.NewJobUseCase(jobRepo, eventRepo, assetRepo, redisRepo, dispatcher, s3Repo, cfg.JobActiveLimit)
	jobUC.Retry = policy
	uploadUC := usecase.NewUploadUseCase(s3Repo, cfg.UploadMaxBytes, cfg.UploadURLExpiry)
	streamUC := usecase.NewStreamUseCase(jobRepo, eventRepo, usecase.StreamConfig{
		PollInterval:      cfg.StreamPollInterval,
		HeartbeatInterval: cfg.StreamHeartbeatInterval,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	r.GET("/healthz", v1.Health)

	api := r.Group("/api/v1")
	api.Use(
		middleware.JWTAuthMiddleware(gate),
		middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RedisClient: redisClient,
			Limit:       cfg.RateLimit,
			Window:      cfg.RateLimitWindow,
			KeyPrefix:   "rl:",
		}),
	)
	v1.RegisterRoutes(api,
		v1.NewJobHandler(jobUC),
		v1.NewUploadHandler(uploadUC),
		v1.NewStreamHandler(streamUC),
	)

	// No WriteTimeout: event streams stay open for as long as the client listens.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("gateway started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
	}
	log.Info().Msg("gateway stopped")
}
