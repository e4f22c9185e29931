package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/gearup-marketplace/internal/cart"
	"github.com/joao-fontenele/gearup-marketplace/internal/catalog"
	"github.com/joao-fontenele/gearup-marketplace/internal/checkout"
	"github.com/joao-fontenele/gearup-marketplace/internal/config"
	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/messaging"
	"github.com/joao-fontenele/gearup-marketplace/internal/payment"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
	"github.com/joao-fontenele/gearup-marketplace/internal/storefront"
	"github.com/joao-fontenele/gearup-marketplace/internal/telemetry"
)

func main() {
	cfg := config.Load("8081")
	logger := telemetry.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "marketplace", "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("marketplace", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	httpClient := telemetry.NewHTTPClient()

	store := catalog.NewStoreFeed(db)
	feeds := []catalog.Feed{}
	if cfg.CatalogAPIURL != "" {
		catalogClient := telemetry.NewHTTPClient()
		catalogClient.Timeout = 10 * time.Second
		feeds = append(feeds, catalog.NewAPIFeed(cfg.CatalogAPIURL, catalogClient))
	} else {
		logger.Warn("CATALOG_API_URL not set, serving document store products only")
	}
	feeds = append(feeds, store)

	products := catalog.NewAggregator(logger, feeds...)
	if err := products.Refresh(ctx); err != nil {
		logger.Error("initial catalog refresh failed", "error", err)
	}
	go products.Run(ctx, cfg.CatalogRefreshInterval)

	watcher := catalog.NewWatcher(cfg.PostgresURL, logger, func(ctx context.Context, ev domain.ProductChangedEvent) {
		logger.Info("catalog change received", "operation", ev.Operation, "product_id", ev.ProductID)
		products.RefreshOrigin(ctx, domain.OriginDocumentStore)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("catalog watcher stopped", "error", err)
		}
	}()

	receipts := receipt.NewRepository(db)
	sinks := []receipt.Sink{receipts}

	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.ReceiptTopic)
		defer func() { _ = producer.Close() }()
		sinks = append(sinks, receipt.NewEventSink(producer))
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := messaging.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer func() { _ = publisher.Close() }()
		sinks = append(sinks, receipt.NewEventSink(publisher))
	}

	payments := payment.NewHTTPProcessor(cfg.PaymentAPIURL, cfg.Currency, httpClient, logger)
	processor, err := checkout.NewProcessor(payments, receipt.Fanout(sinks...), logger,
		checkout.WithStageTimeout(cfg.CheckoutStageTimeout),
		checkout.WithCurrency(cfg.Currency),
	)
	if err != nil {
		logger.Error("failed to create checkout processor", "error", err)
		os.Exit(1)
	}

	carts := cart.NewRegistry(logger,
		cart.WithIdleTimeout(cfg.CartIdleTimeout),
		cart.WithInUse(func(m *cart.Manager) bool { return processor.IsRunning(m) }),
	)
	go carts.Run(ctx, cfg.CartSweepInterval)

	shop := storefront.NewHandler(carts, products, processor, receipts, logger)
	admin := catalog.NewHandler(products, store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(admin.HandleListProducts))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(shop.HandleGetCart))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(shop.HandleAddItem))
	mux.HandleFunc("POST /cart/items/{productId}/increase", telemetry.WithHTTPRoute(shop.HandleIncrease))
	mux.HandleFunc("POST /cart/items/{productId}/decrease", telemetry.WithHTTPRoute(shop.HandleDecrease))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(shop.HandleRemove))
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(shop.HandleCheckout))
	mux.HandleFunc("GET /receipts", telemetry.WithHTTPRoute(shop.HandleListReceipts))
	mux.HandleFunc("GET /receipts/{id}", telemetry.WithHTTPRoute(shop.HandleGetReceipt))
	mux.HandleFunc("GET /receipts/{id}/html", telemetry.WithHTTPRoute(shop.HandleGetReceiptHTML))
	mux.HandleFunc("POST /admin/products", telemetry.WithHTTPRoute(admin.HandleCreateProduct))
	mux.HandleFunc("DELETE /admin/products/{id}", telemetry.WithHTTPRoute(admin.HandleDeleteProduct))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "marketplace",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout: 10 * time.Second,
		// Two payment stages plus receipt delivery must fit in one response.
		WriteTimeout: 3*cfg.CheckoutStageTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting marketplace service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

