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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/auth"
	"github.com/leadflow/leadflow/pkg/condition"
	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/executor"
	"github.com/leadflow/leadflow/pkg/logging"
	"github.com/leadflow/leadflow/pkg/provider/personalize"
	"github.com/leadflow/leadflow/pkg/provider/smtp"
	"github.com/leadflow/leadflow/pkg/provider/voice"
	"github.com/leadflow/leadflow/pkg/quota"
	"github.com/leadflow/leadflow/pkg/retry"
	"github.com/leadflow/leadflow/pkg/scheduler"
	"github.com/leadflow/leadflow/pkg/stats"
	"github.com/leadflow/leadflow/pkg/store"
	"github.com/leadflow/leadflow/pkg/store/clickhouse"
	"github.com/leadflow/leadflow/pkg/store/postgres"
	redisclient "github.com/leadflow/leadflow/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	flush, err := logging.InitSentry(cfg.Sentry, "scheduler")
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	} else {
		defer flush()
	}

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archive store.ActionArchive
	if cfg.Logging.ActionLogArchive == "clickhouse" {
		logStore, err := clickhouse.NewActionLogStore(&cfg.ClickHouse, logger)
		if err != nil {
			logger.Fatal("failed to connect to clickhouse", zap.Error(err))
		}
		defer logStore.Close()
		if err := logStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare action log table", zap.Error(err))
		}
		archive = logStore
	}

	executors := executor.NewDefaultRegistry(
		emailSender(cfg, logger),
		callInitiator(cfg, logger),
		nil,
		cfg.Executor.SendsPerSecond,
		cfg.Executor.Burst,
	)

	sink := stats.NewSink(db, archive, logger)
	svc := scheduler.NewScheduler(
		db,
		executors,
		condition.NewEvaluator(db, db),
		retry.NewManagerFromConfig(&cfg.Retry),
		sink,
		quota.NewManager(db),
		executor.NewPersonalizationCache(personalizer(cfg), logger),
		logger,
		cfg.Scheduler,
	)

	bus := eventbus.NewBus(redis.Client(), logger)
	handler := events.NewHandler(db, sink, svc, logger)
	go handler.Consume(ctx, bus.Subscribe(ctx, eventbus.ChannelInbound))

	if cfg.Kafka.InboundTopic != "" {
		source := eventbus.NewKafkaSource(eventbus.KafkaSourceConfig{
			Brokers:    cfg.Kafka.Brokers,
			ClientID:   cfg.Kafka.ClientID,
			GroupID:    cfg.Kafka.GroupID,
			Topic:      cfg.Kafka.InboundTopic,
			RetryTopic: cfg.Kafka.InboundRetryTopic,
			DLQTopic:   cfg.Kafka.InboundDLQTopic,
			MaxRetries: cfg.Kafka.MaxRetries,
		}, handler.HandleRaw, redis.Deduper(cfg.Kafka.DedupeTTL), logger)
		defer source.Close()

		go func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("provider event consumer stopped", zap.Error(err))
			}
		}()
	}

	if err := svc.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	go svc.WatchPrograms(ctx, bus.Subscribe(ctx, eventbus.ChannelProgram))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("scheduler shutting down")

	if err := svc.Stop(); err != nil {
		logger.Error("scheduler stop", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// Unconfigured providers stay nil interfaces so their executors report a
// configuration error instead of dereferencing a nil client.

func emailSender(cfg *config.Config, logger *zap.Logger) executor.EmailSender {
	if !cfg.SMTP.Enabled() {
		logger.Warn("smtp not configured, email steps will be deferred")
		return nil
	}
	return smtp.NewSender(&cfg.SMTP, linkSigner(cfg, logger), logger)
}

func linkSigner(cfg *config.Config, logger *zap.Logger) smtp.LinkSigner {
	if cfg.SMTP.TrackingBaseURL == "" {
		return nil
	}
	if err := cfg.Auth.Validate(); err != nil {
		logger.Fatal("click tracking needs a signing secret", zap.Error(err))
	}
	return auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), 0)
}

func callInitiator(cfg *config.Config, logger *zap.Logger) executor.CallInitiator {
	if cfg.Voice.BaseURL == "" {
		logger.Warn("voice provider not configured, call steps will be deferred")
		return nil
	}
	return voice.NewClient(&cfg.Voice, logger)
}

func personalizer(cfg *config.Config) executor.Personalizer {
	if cfg.Personalization.BaseURL == "" {
		return nil
	}
	return personalize.NewClient(&cfg.Personalization)
}
