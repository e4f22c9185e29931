package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/gearup-marketplace/internal/config"
	"github.com/joao-fontenele/gearup-marketplace/internal/messaging"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
	"github.com/joao-fontenele/gearup-marketplace/internal/telemetry"
	"github.com/joao-fontenele/gearup-marketplace/internal/worker"
)

func main() {
	cfg := config.Load("8083")
	logger := telemetry.NewLogger(cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 && cfg.RabbitMQURL == "" {
		logger.Error("KAFKA_BROKERS or RABBITMQ_URL environment variable is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "receipt-worker", "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("receipt-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	var archive worker.Archive
	if cfg.PostgresURL != "" {
		db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		archive = receipt.NewRepository(db)
	}

	exporter, err := worker.NewReceiptExporter(archive, cfg.ReceiptExportDir, logger)
	if err != nil {
		logger.Error("failed to create receipt exporter", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("serving metrics", "port", cfg.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.ReceiptTopic, "receipt-exporter", logger)
		defer func() { _ = consumer.Close() }()

		g.Go(func() error {
			logger.Info("consuming receipts from kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.ReceiptTopic)
			return consumer.Consume(gctx, exporter.Handle)
		})
	}

	if cfg.RabbitMQURL != "" {
		consumer, err := messaging.NewAMQPConsumer(cfg.RabbitMQURL, cfg.RabbitMQQueue, "receipt-exporter", logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer func() { _ = consumer.Close() }()

		g.Go(func() error {
			logger.Info("consuming receipts from rabbitmq", "queue", cfg.RabbitMQQueue)
			return consumer.Consume(gctx, exporter.Handle)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
