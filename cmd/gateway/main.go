package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/gearup-marketplace/internal/config"
	"github.com/joao-fontenele/gearup-marketplace/internal/gateway"
	"github.com/joao-fontenele/gearup-marketplace/internal/telemetry"
)

func main() {
	cfg := config.Load("8080")
	logger := telemetry.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	httpClient := telemetry.NewHTTPClient()
	httpClient.Timeout = 3*cfg.CheckoutStageTimeout + 15*time.Second

	handler := gateway.NewHandler(gateway.NewServiceProxy(cfg.MarketplaceURL, httpClient), logger)
	secureCookies := strings.HasPrefix(cfg.PublicURL, "https://")

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(handler.Routes(secureCookies), "gateway",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: httpClient.Timeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Port, "marketplace_url", cfg.MarketplaceURL)
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
