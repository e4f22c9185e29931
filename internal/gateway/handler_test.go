package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newRouter(upstreamURL string, client *http.Client) http.Handler {
	return NewHandler(
		NewServiceProxy(upstreamURL, client),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	).Routes(false)
}

func TestHandler_Routes(t *testing.T) {
	t.Run("issues a session cookie and forwards it", func(t *testing.T) {
		var seen string
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/cart" {
				t.Errorf("expected /cart, got %s", r.URL.Path)
			}
			seen = r.Header.Get(SessionHeader)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"lines":[]}`))
		}))
		defer upstream.Close()

		rec := httptest.NewRecorder()
		newRouter(upstream.URL, upstream.Client()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != sessionCookie || !cookies[0].HttpOnly {
			t.Fatalf("expected session cookie, got %+v", cookies)
		}
		if seen != cookies[0].Value {
			t.Errorf("forwarded session %q does not match cookie %q", seen, cookies[0].Value)
		}
		if rec.Body.String() != `{"lines":[]}` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("reuses existing session and ignores spoofed header", func(t *testing.T) {
		existing := uuid.NewString()
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get(SessionHeader); got != existing {
				t.Errorf("expected session %s, got %s", existing, got)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer upstream.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/cart/items", strings.NewReader(`{"product_id":"server-1"}`))
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: existing})
		req.Header.Set(SessionHeader, "someone-else")
		rec := httptest.NewRecorder()
		newRouter(upstream.URL, upstream.Client()).ServeHTTP(rec, req)

		if len(rec.Result().Cookies()) != 0 {
			t.Errorf("expected no new cookie, got %+v", rec.Result().Cookies())
		}
	})

	t.Run("replaces malformed session cookie", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer upstream.Close()

		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "not-a-uuid"})
		rec := httptest.NewRecorder()
		newRouter(upstream.URL, upstream.Client()).ServeHTTP(rec, req)

		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Value == "not-a-uuid" {
			t.Errorf("expected a fresh session cookie, got %+v", cookies)
		}
	})

	t.Run("maps nested paths", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != "/cart/items/server-1" {
				t.Errorf("unexpected upstream request %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer upstream.Close()

		rec := httptest.NewRecorder()
		newRouter(upstream.URL, upstream.Client()).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cart/items/server-1", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when marketplace unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter("http://localhost:99999", &http.Client{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "service unavailable") {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newRouter("http://unused", http.DefaultClient).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}
