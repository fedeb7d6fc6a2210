package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gigflow/api"
	"gigflow/auth"
	"gigflow/config"
	"gigflow/db"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/job"
	"gigflow/ledger"
	"gigflow/outbox"
	"gigflow/proposal"
	"gigflow/reputation"
)

func main() {
	cfg, err := config.Load(os.Getenv("GIGFLOW_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Server.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.MigrateUp(cfg.Database.URL, "migrations"); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var publisher outbox.Publisher
	if cfg.MQ.URL != "" {
		amqpPub, err := outbox.NewAMQPPublisher(cfg.MQ.URL)
		if err != nil {
			logger.Fatal("init amqp publisher", zap.Error(err))
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	gateway := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout, logger)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, cfg.JWT.Secret)

	jobRepo := job.NewPGRepository(pool)
	jobService := job.NewService(pool, jobRepo, logger)

	escrowRepo := escrow.NewPGRepository(pool)
	escrowService := escrow.NewService(escrowRepo, gateway, logger)

	proposalRepo := proposal.NewPGRepository(pool)
	proposalService := proposal.NewService(pool, proposalRepo, jobRepo, escrowRepo, logger)

	disputeRepo := dispute.NewPGRepository(pool)
	disputeService := dispute.NewService(pool, disputeRepo, escrowRepo, escrowService, logger)

	var cache reputation.Cache
	if redisClient != nil {
		cache = reputation.NewRedisCache(redisClient, 5*time.Minute)
	}
	reputationRepo := reputation.NewPGRepository(pool)
	reputationService := reputation.NewService(pool, reputationRepo, jobRepo, cache, logger)

	worker := outbox.NewWorker(pool, publisher, logger, cfg.Outbox.Interval, cfg.Outbox.BatchSize)
	worker.Subscribe(outbox.TopicJobCompleted, reputationService.Handler())
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker stopped", zap.Error(err))
		}
	}()

	handlers := &api.Handlers{
		Auth:       authService,
		Jobs:       jobService,
		Proposals:  proposalService,
		Escrows:    escrowService,
		Disputes:   disputeService,
		Reputation: reputationService,
	}
	router := api.NewRouter(handlers, authService, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
