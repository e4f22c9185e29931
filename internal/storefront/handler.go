// Package storefront exposes the shopper-facing HTTP API: cart, checkout and receipts.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/cart"
	"github.com/joao-fontenele/gearup-marketplace/internal/checkout"
	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
	"github.com/joao-fontenele/gearup-marketplace/internal/receipt"
)

// SessionHeader carries the shopper session assigned by the gateway.
const SessionHeader = "X-Session-ID"

// IdempotencyHeader identifies a checkout attempt when the body does not carry a key.
const IdempotencyHeader = "Idempotency-Key"

// statusClientClosedRequest is reported when the shopper abandons a checkout.
const statusClientClosedRequest = 499

type Catalog interface {
	Lookup(id string) (domain.Product, bool)
}

type Checkouter interface {
	Checkout(ctx context.Context, c checkout.Cart, req checkout.Request) (*checkout.Result, error)
	IsRunning(c checkout.Cart) bool
}

type ReceiptStore interface {
	GetByID(ctx context.Context, id string) (*domain.Receipt, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Receipt, error)
}

type Handler struct {
	carts    *cart.Registry
	catalog  Catalog
	checkout Checkouter
	receipts ReceiptStore
	logger   *slog.Logger
}

func NewHandler(carts *cart.Registry, catalog Catalog, checkout Checkouter, receipts ReceiptStore, logger *slog.Logger) *Handler {
	return &Handler{
		carts:    carts,
		catalog:  catalog,
		checkout: checkout,
		receipts: receipts,
		logger:   logger,
	}
}

type cartResponse struct {
	Lines              []domain.CartLine `json:"lines"`
	Count              int               `json:"count"`
	Total              decimal.Decimal   `json:"total"`
	CheckoutInProgress bool              `json:"checkout_in_progress"`
}

func (h *Handler) cartResponse(m *cart.Manager, snap domain.CartSnapshot) cartResponse {
	lines := snap.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return cartResponse{
		Lines:              lines,
		Count:              snap.ItemCount(),
		Total:              snap.DisplayTotal(),
		CheckoutInProgress: m != nil && h.checkout.IsRunning(m),
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing session id")
		return "", false
	}
	return id, true
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}
	m, ok := h.carts.Peek(sessionID)
	if !ok {
		h.writeJSON(w, http.StatusOK, h.cartResponse(nil, domain.CartSnapshot{}))
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartResponse(m, m.Snapshot()))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	product, found := h.catalog.Lookup(req.ProductID)
	if !found {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	m := h.carts.Get(sessionID)
	snap := m.AddOrMerge(product, quantity)

	h.logger.Info("cart item added", "session_id", sessionID, "product_id", product.ID, "quantity", quantity)
	h.writeJSON(w, http.StatusOK, h.cartResponse(m, snap))
}

func (h *Handler) HandleIncrease(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, "increased", (*cart.Manager).Increase)
}

func (h *Handler) HandleDecrease(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, "decreased", (*cart.Manager).Decrease)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, "removed", (*cart.Manager).Remove)
}

func (h *Handler) mutateLine(w http.ResponseWriter, r *http.Request, action string, op func(*cart.Manager, string) domain.CartSnapshot) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	// Nothing to change in a cart that was never created.
	m, ok := h.carts.Peek(sessionID)
	if !ok {
		h.writeJSON(w, http.StatusOK, h.cartResponse(nil, domain.CartSnapshot{}))
		return
	}
	snap := op(m, productID)

	h.logger.Info("cart item "+action, "session_id", sessionID, "product_id", productID)
	h.writeJSON(w, http.StatusOK, h.cartResponse(m, snap))
}

type checkoutRequest struct {
	CardholderName string               `json:"cardholder_name"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	IdempotencyKey string               `json:"idempotency_key"`
}

type checkoutResponse struct {
	State           checkout.State        `json:"state"`
	Message         string                `json:"message"`
	Transitions     []checkout.State      `json:"transitions"`
	Attempt         domain.PaymentAttempt `json:"attempt"`
	Receipt         *domain.Receipt       `json:"receipt"`
	Cart            cartResponse          `json:"cart"`
	ReturnToCatalog bool                  `json:"return_to_catalog"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}

	m := h.carts.Get(sessionID)
	res, err := h.checkout.Checkout(r.Context(), m, checkout.Request{
		SessionID:      sessionID,
		CardholderName: req.CardholderName,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: key,
	})
	if err != nil {
		var verr *checkout.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusUnprocessableEntity, verr.Error())
		case errors.Is(err, checkout.ErrCheckoutInProgress):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, checkout.ErrAbandoned):
			h.logger.Info("checkout abandoned by client", "session_id", sessionID)
			h.writeError(w, statusClientClosedRequest, err.Error())
		default:
			h.logger.Error("checkout failed unexpectedly", "error", err, "session_id", sessionID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	status := http.StatusOK
	if res.State == checkout.StateFailed {
		status = http.StatusPaymentRequired
	}

	h.writeJSON(w, status, checkoutResponse{
		State:           res.State,
		Message:         res.Message(),
		Transitions:     res.Transitions,
		Attempt:         res.Attempt,
		Receipt:         res.Receipt,
		Cart:            h.cartResponse(m, res.Cart),
		ReturnToCatalog: res.ReturnToCatalog,
	})
}

func (h *Handler) HandleListReceipts(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}

	receipts, err := h.receipts.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list receipts", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}

	h.writeJSON(w, http.StatusOK, receipts)
}

func (h *Handler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.loadReceipt(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, rc)
}

func (h *Handler) HandleGetReceiptHTML(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.loadReceipt(w, r)
	if !ok {
		return
	}

	body, err := receipt.RenderHTMLBytes(rc)
	if err != nil {
		h.logger.Error("failed to render receipt", "error", err, "receipt_id", rc.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// loadReceipt only returns receipts issued to the requesting session. Other
// sessions get the same 404 as for an unknown id.
func (h *Handler) loadReceipt(w http.ResponseWriter, r *http.Request) (*domain.Receipt, bool) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return nil, false
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing receipt id")
		return nil, false
	}

	rc, err := h.receipts.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get receipt", "error", err, "receipt_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if rc == nil || rc.SessionID != sessionID {
		h.writeError(w, http.StatusNotFound, "receipt not found")
		return nil, false
	}
	return rc, true
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
