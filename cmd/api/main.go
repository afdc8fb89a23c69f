package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/infra/config"
	"github.com/songlift/extraction-service/internal/infra/httpapi"
	miniostorage "github.com/songlift/extraction-service/internal/infra/minio"
	"github.com/songlift/extraction-service/internal/infra/postgres"
	"github.com/songlift/extraction-service/internal/infra/rabbitmq"
	"github.com/songlift/extraction-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting songlift extraction api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		MediaBucket:  cfg.MinIOMediaBucket,
		ExportBucket: cfg.MinIOExportBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	requestPub := rabbitmq.NewRequestPublisher(pub)

	repo := postgres.NewJobRepository(pool)
	hub := httpapi.NewHub(log)
	go hub.Run(ctx)

	// Feed the websocket hub from the status queue so clients see live
	// sampling progress and terminal states.
	statusConsumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQStatusQueue,
		RoutingKey:  rabbitmq.StatusRoutingKey,
		Exchange:    cfg.RabbitMQExchange,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: 1,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, func(_ context.Context, body []byte) error {
		var msg entity.ExtractionStatusMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			log.Warn("malformed status message", zap.Error(err))
			return nil
		}
		hub.Broadcast(msg)
		return nil
	}, log)
	fatalOnErr(err, "create status consumer")

	go func() {
		if err := statusConsumer.Start(ctx); err != nil {
			log.Error("status consumer error", zap.Error(err))
		}
	}()

	server := httpapi.NewServer(repo, storage, requestPub, hub, log, httpapi.ServerConfig{
		MaxRetries:     cfg.MaxRetries,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: server.Router(),
	}

	go func() {
		log.Info("api listening", zap.Int("port", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	statusConsumer.Close()
	log.Info("songlift extraction api stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
