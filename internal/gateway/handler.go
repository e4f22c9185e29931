// Package gateway is the public edge: it assigns browser sessions and
// forwards API calls to the marketplace service.
package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Handler struct {
	marketplace *ServiceProxy
	logger      *slog.Logger
}

func NewHandler(marketplace *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		marketplace: marketplace,
		logger:      logger,
	}
}

// Routes builds the public router. Every route lives under /api and maps to
// the same path on the marketplace service.
func (h *Handler) Routes(secureCookies bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(routeAttribute)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Sessions(secureCookies))

		r.Get("/products", h.HandleMarketplace)

		r.Get("/cart", h.HandleMarketplace)
		r.Post("/cart/items", h.HandleMarketplace)
		r.Post("/cart/items/{productId}/increase", h.HandleMarketplace)
		r.Post("/cart/items/{productId}/decrease", h.HandleMarketplace)
		r.Delete("/cart/items/{productId}", h.HandleMarketplace)

		r.Post("/checkout", h.HandleMarketplace)

		r.Get("/receipts", h.HandleMarketplace)
		r.Get("/receipts/{id}", h.HandleMarketplace)
		r.Get("/receipts/{id}/html", h.HandleMarketplace)

		r.Post("/admin/products", h.HandleMarketplace)
		r.Delete("/admin/products/{id}", h.HandleMarketplace)
	})

	return r
}

func (h *Handler) HandleMarketplace(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	h.proxyRequest(w, r, h.marketplace, path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	sessionID := SessionFromContext(r.Context())

	resp, err := proxy.ForwardRequest(r.Context(), r, path, sessionID)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path, "request_id", middleware.GetReqID(r.Context()))
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode, "session_id", sessionID)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

// routeAttribute records the matched chi pattern on the server span. The
// pattern is only known once routing has finished.
func routeAttribute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				oteltrace.SpanFromContext(r.Context()).SetAttributes(semconv.HTTPRoute(pattern))
			}
		}
	})
}
