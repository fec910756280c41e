package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/platform/httpx"
	"github.com/cleaver-pos/cleaver/internal/shared"
)

// CatalogService is the subset of Service the HTTP layer needs.
type CatalogService interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error)
	Adjust(ctx context.Context, input AdjustmentInput) (StockChange, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service CatalogService
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service CatalogService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleShow)
	r.Post("/{id}/adjustments", h.handleAdjust)
}

type productListResponse struct {
	Products   []Product         `json:"products"`
	Pagination shared.Pagination `json:"pagination"`
}

type adjustmentRequest struct {
	Delta     decimal.Decimal `json:"delta"`
	Note      string          `json:"note"`
	Reference string          `json:"reference"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pg := shared.NewPagination(page, perPage, 0)
	products, total, err := h.service.ListProducts(r.Context(), ListFilter{
		Search: q.Get("search"),
		Limit:  pg.PerPage,
		Offset: (pg.Page - 1) * pg.PerPage,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	httpx.JSON(w, http.StatusOK, productListResponse{Products: products, Pagination: shared.NewPagination(pg.Page, pg.PerPage, total)})
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	change, err := h.service.Adjust(r.Context(), AdjustmentInput{
		ProductID: chi.URLParam(r, "id"),
		Delta:     req.Delta,
		Note:      req.Note,
		Reference: req.Reference,
		Actor:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, change)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var stockErr *StockInsufficientError
	switch {
	case errors.As(err, &stockErr):
		WriteStockProblem(w, stockErr)
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Product Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// WriteStockProblem renders a 409 naming the product and what is left so the
// caller can show an actionable message.
func WriteStockProblem(w http.ResponseWriter, err *StockInsufficientError) {
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Type:   "https://cleaver.pos/problems/stock-insufficient",
		Title:  "Stock Insufficient",
		Status: http.StatusConflict,
		Detail: err.Error(),
		Extensions: map[string]any{
			"product_id": err.ProductID,
			"title":      err.Title,
			"available":  err.Available.String(),
			"requested":  err.Requested.String(),
		},
	})
}
