package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/internal/notifier/consumer"
	"github.com/notifyhub/service-notification-processor/internal/notifier/datastore"
	"github.com/notifyhub/service-notification-processor/internal/notifier/migrations"
	"github.com/notifyhub/service-notification-processor/internal/notifier/ops"
	"github.com/notifyhub/service-notification-processor/internal/notifier/processor"
	"github.com/notifyhub/service-notification-processor/internal/notifier/publisher"
	"github.com/notifyhub/service-notification-processor/pkg/config"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("notification-processor", "info")
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var tracerShutdown func(context.Context) error
	if cfg.Observability.Tracing.Enabled {
		tracer, err := config.SetupTracing(cfg.Observability.Tracing.ServiceName, log)
		if err != nil {
			log.Error("failed to set up tracing", zap.Error(err))
			os.Exit(1)
		}
		tracerShutdown = tracer.Shutdown
	}

	m := metrics.New(cfg.Observability.MetricsNamespace)

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           cfg.Redis.Addresses,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
	})
	defer redisClient.Close()

	db, err := datastore.NewPostgres(datastore.Options{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.Username,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, log, m)
	if err != nil {
		log.Error("failed to connect to datastore", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	migrator, err := migrations.NewManager(databaseURL, log)
	if err != nil {
		log.Error("failed to initialize migrator", zap.Error(err))
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		log.Error("failed to apply migrations", zap.Error(err))
		os.Exit(1)
	}

	loginRepo := datastore.NewLoginRepository(db)

	capCache := cache.NewCapabilityCache(
		cfg.Capability.CatalogURLs, cfg.Capability.RequestTimeout, cfg.Capability.RefreshInterval,
		redisClient, cfg.Capability.RedisMirrorTTL, log, m,
	)
	webhookCache := cache.NewWebhookCache(
		cfg.Webhook.CatalogURLs, cfg.Webhook.RequestTimeout, cfg.Webhook.RefreshInterval,
		redisClient, cfg.Webhook.RedisMirrorTTL, log, m,
	)

	pub, err := publisher.New(publisher.Config{
		Brokers:           cfg.Kafka.Brokers,
		Compression:       compressionFromString(cfg.Kafka.Producer.Compression),
		MaxRetries:        cfg.Kafka.Producer.MaxRetries,
		RetryBackoff:      cfg.Kafka.Producer.RetryBackoff,
		ConnectionTimeout: cfg.Kafka.Producer.ConnectionTimeout,
	}, log, m)
	if err != nil {
		log.Error("failed to create publisher", zap.Error(err))
		os.Exit(1)
	}
	defer pub.Close()

	proc := processor.New(processor.Config{
		TopicPrefix:      cfg.Processor.TopicPrefix,
		PublishTimeout:   cfg.Processor.PublishTimeout,
		DatastoreTimeout: cfg.Processor.DatastoreTimeout,
	}, capCache, webhookCache, loginRepo, pub, log, m)

	cons, err := consumer.New(consumer.Config{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          cfg.Kafka.GroupID,
		Topics:           []string{cfg.Kafka.Topic},
		BatchSize:        cfg.Processor.BatchSize,
		MinBytes:         cfg.Kafka.Consumer.MinBytes,
		MaxBytes:         cfg.Kafka.Consumer.MaxBytes,
		MaxWait:          cfg.Kafka.Consumer.MaxWait,
		SessionTimeout:   cfg.Kafka.Consumer.SessionTimeout,
		RebalanceTimeout: cfg.Kafka.Consumer.RebalanceTimeout,
	}, proc, log)
	if err != nil {
		log.Error("failed to create consumer", zap.Error(err))
		os.Exit(1)
	}
	proc.SetConsumer(cons)

	policyModule := ""
	if cfg.Ops.OPAPolicyPath != "" {
		raw, err := os.ReadFile(cfg.Ops.OPAPolicyPath)
		if err != nil {
			log.Error("failed to read opa policy file, falling back to default policy", zap.Error(err))
		} else {
			policyModule = string(raw)
		}
	}
	authorizer, err := ops.NewAuthorizer(context.Background(), policyModule, log.Logger)
	if err != nil {
		log.Error("failed to compile admin policy", zap.Error(err))
		os.Exit(1)
	}

	opsServer := ops.NewServer(ops.Config{
		Processor:    proc,
		Capabilities: capCache,
		Webhooks:     webhookCache,
		Authorizer:   authorizer,
		RateLimiter: ops.NewRateLimiter(redisClient, ops.RateLimiterConfig{
			MaxRequests: cfg.Ops.RateLimit.MaxTokens,
			Window:      cfg.Ops.RateLimit.Window,
		}, log.Logger),
		Log:     log,
		Metrics: m,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
		Handler:      opsServer,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
	}

	go func() {
		log.Info("starting ops HTTP server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops HTTP server failed", zap.Error(err))
		}
	}()

	// Cache warm-up and consumer dial failures are both fatal at startup:
	// there's nothing useful to run without them.
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := proc.Start(startCtx); err != nil {
		startCancel()
		log.Error("processor failed to start", zap.Error(err))
		os.Exit(1)
	}
	startCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("ops HTTP server shutdown failed", zap.Error(err))
	}
	if err := proc.Stop(); err != nil {
		log.Error("processor stop failed", zap.Error(err))
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Error("tracer shutdown failed", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
}

func compressionFromString(s string) sarama.CompressionCodec {
	switch s {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
