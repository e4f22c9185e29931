package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// Admin is the write side of the document store.
type Admin interface {
	Create(ctx context.Context, in NewProductInput) (*domain.Product, error)
	Delete(ctx context.Context, rawID string) error
}

type Handler struct {
	catalog *Aggregator
	admin   Admin
	logger  *slog.Logger
}

func NewHandler(catalog *Aggregator, admin Admin, logger *slog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		admin:   admin,
		logger:  logger,
	}
}

type listResponse struct {
	Products []domain.Product `json:"products"`
	Feeds    []FeedStatus     `json:"feeds"`
	Error    string           `json:"error,omitempty"`
}

func (h *Handler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Products()
	resp := listResponse{Products: products, Feeds: h.catalog.Status()}
	if err != nil {
		resp.Error = "failed to load products"
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type createProductRequest struct {
	Name        string     `json:"name"`
	Price       flexString `json:"price"`
	Description string     `json:"description"`
	Image       string     `json:"image"`
}

func (h *Handler) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := NewProductInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Image:       strings.TrimSpace(req.Image),
	}
	if in.Name == "" || in.Description == "" || in.Image == "" || strings.TrimSpace(string(req.Price)) == "" {
		h.writeError(w, http.StatusBadRequest, "please fill in all fields including image url")
		return
	}
	price, err := parseAdminPrice(string(req.Price))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Price = price

	p, err := h.admin.Create(r.Context(), in)
	if err != nil {
		h.logger.Error("failed to create product", "error", err, "name", in.Name)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.catalog.RefreshOrigin(r.Context(), domain.OriginDocumentStore)
	h.logger.Info("product created", "product_id", p.ID, "name", p.Name)
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}
	rawID := strings.TrimPrefix(id, string(domain.OriginDocumentStore)+"-")

	if err := h.admin.Delete(r.Context(), rawID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			h.writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to delete product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.catalog.RefreshOrigin(r.Context(), domain.OriginDocumentStore)
	h.logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
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
