// Package paymentsim is a local stand-in for the card payment processor.
package paymentsim

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Payment method tokens that are always declined.
var declinedTokens = map[string]bool{
	"tok_chargeDeclined":     true,
	"pm_card_chargeDeclined": true,
	"4000-0000-0000-0002":    true,
}

var cardNumberPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`)

type intent struct {
	ID        string
	Secret    string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
}

type Handler struct {
	logger     *slog.Logger
	minLatency time.Duration
	maxLatency time.Duration

	mu      sync.Mutex
	intents map[string]*intent // by client secret
	byKey   map[string]*intent // by idempotency key
}

type Option func(*Handler)

// WithLatency delays every response by a random duration in [min, max].
func WithLatency(min, max time.Duration) Option {
	return func(h *Handler) {
		h.minLatency, h.maxLatency = min, max
	}
}

func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		intents: make(map[string]*intent),
		byKey:   make(map[string]*intent),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

func (h *Handler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "amount must be a positive number of minor units")
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	h.simulateLatency()

	key := r.Header.Get("Idempotency-Key")

	h.mu.Lock()
	defer h.mu.Unlock()

	if key != "" {
		if existing, ok := h.byKey[key]; ok {
			if existing.Amount != req.Amount || existing.Currency != req.Currency {
				h.writeError(w, http.StatusConflict, "idempotency key reused with different parameters")
				return
			}
			h.logger.Info("payment intent replayed", "intent_id", existing.ID, "idempotency_key", key)
			h.writeJSON(w, http.StatusOK, createIntentResponse{ClientSecret: existing.Secret})
			return
		}
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	in := &intent{
		ID:        id,
		Secret:    id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Amount:    req.Amount,
		Currency:  strings.ToLower(req.Currency),
		Status:    "requires_confirmation",
		CreatedAt: time.Now().UTC(),
	}
	h.intents[in.Secret] = in
	if key != "" {
		h.byKey[key] = in
	}

	h.logger.Info("payment intent created", "intent_id", in.ID, "amount", in.Amount, "currency", in.Currency)
	h.writeJSON(w, http.StatusOK, createIntentResponse{ClientSecret: in.Secret})
}

type confirmRequest struct {
	ClientSecret   string `json:"client_secret"`
	PaymentMethod  string `json:"payment_method"`
	BillingDetails struct {
		Name string `json:"name"`
	} `json:"billing_details"`
}

type confirmResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.BillingDetails.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "billing name is required")
		return
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		h.writeError(w, http.StatusBadRequest, "payment method is required")
		return
	}
	if looksLikeCardNumber(method) && !cardNumberPattern.MatchString(method) {
		h.writeError(w, http.StatusBadRequest, "card number must be in format XXXX-XXXX-XXXX-XXXX")
		return
	}

	h.simulateLatency()

	h.mu.Lock()
	defer h.mu.Unlock()

	in, ok := h.intents[req.ClientSecret]
	if !ok {
		h.writeError(w, http.StatusNotFound, "no such payment intent")
		return
	}

	switch in.Status {
	case "succeeded":
		h.writeJSON(w, http.StatusOK, confirmResponse{Status: "succeeded", Reference: in.ID})
		return
	case "failed":
		h.writeJSON(w, http.StatusPaymentRequired, confirmResponse{Status: "failed", Reference: in.ID, Message: "Your card was declined."})
		return
	}

	if declinedTokens[method] {
		in.Status = "failed"
		h.logger.Info("payment declined", "intent_id", in.ID, "payment_method", maskMethod(method))
		h.writeJSON(w, http.StatusPaymentRequired, confirmResponse{Status: "failed", Reference: in.ID, Message: "Your card was declined."})
		return
	}

	in.Status = "succeeded"
	h.logger.Info("payment confirmed", "intent_id", in.ID, "amount", in.Amount, "payment_method", maskMethod(method))
	h.writeJSON(w, http.StatusOK, confirmResponse{Status: "succeeded", Reference: in.ID})
}

func (h *Handler) simulateLatency() {
	if h.maxLatency <= 0 {
		return
	}
	d := h.minLatency
	if spread := h.maxLatency - h.minLatency; spread > 0 {
		d += rand.N(spread)
	}
	time.Sleep(d)
}

func looksLikeCardNumber(s string) bool {
	return s != "" && (s[0] >= '0' && s[0] <= '9')
}

// maskMethod keeps the last four characters for logging.
func maskMethod(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
