package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/platform/httpx"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

const defaultRetryAfter = 2 * time.Second

// LedgerService is the subset of Service the HTTP layer needs.
type LedgerService interface {
	SubmitInvoice(ctx context.Context, counterpartyID string, in InvoiceInput, paid decimal.Decimal) (InvoiceReceipt, error)
	RecordPayment(ctx context.Context, in PaymentInput) (PaymentReceipt, error)
	BuildLedger(ctx context.Context, counterpartyID string, opts BuildOptions) (Ledger, error)
}

// IdempotencyPort guards invoice submission against client retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ReconcileEnqueuer schedules a background heal for a drifted counterparty.
type ReconcileEnqueuer interface {
	EnqueueLedgerReconcile(ctx context.Context, counterpartyID string) error
}

// Handler wires HTTP endpoints for counterparties' ledgers.
type Handler struct {
	logger      *slog.Logger
	service     LedgerService
	idempotency IdempotencyPort
	reconciler  ReconcileEnqueuer
	reads       singleflight.Group
	readTimeout time.Duration
}

// sharedReadTimeout bounds a coalesced rebuild, which outlives the request
// that started it.
const sharedReadTimeout = 30 * time.Second

// NewHandler constructs the ledger handler. idem and reconciler may be nil.
func NewHandler(logger *slog.Logger, service LedgerService, idem IdempotencyPort, reconciler ReconcileEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idem, reconciler: reconciler, readTimeout: sharedReadTimeout}
}

// MountRoutes registers routes under a counterparties prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/invoices", h.handleInvoice)
	r.Post("/{id}/payments", h.handlePayment)
	r.Get("/{id}/ledger", h.handleLedger)
	r.Post("/{id}/ledger/reconcile", h.handleReconcile)
}

type invoiceRequest struct {
	InvoiceInput
	PaidAmount decimal.Decimal `json:"paid_amount"`
}

type paymentRequest struct {
	Amount decimal.Decimal       `json:"amount"`
	Method treasury.MovementType `json:"method"`
	Notes  string                `json:"notes"`
}

type ledgerResponse struct {
	CounterpartyID string            `json:"counterparty_id"`
	Counterparty   *Counterparty     `json:"counterparty,omitempty"`
	Entries        []Entry           `json:"entries"`
	Balance        decimal.Decimal   `json:"balance"`
	Cached         decimal.Decimal   `json:"cached_balance"`
	Drift          decimal.Decimal   `json:"drift"`
	Healed         bool              `json:"healed"`
	Pagination     shared.Pagination `json:"pagination"`
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	counterpartyID := chi.URLParam(r, "id")
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := ""
	if raw := strings.TrimSpace(r.Header.Get("Idempotency-Key")); raw != "" && h.idempotency != nil {
		key = shared.IdempotencyKey("ledger", counterpartyID, raw)
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "ledger"); err != nil {
			h.respondError(w, err)
			return
		}
	}

	receipt, err := h.service.SubmitInvoice(r.Context(), counterpartyID, req.InvoiceInput, req.PaidAmount)
	if err != nil {
		if key != "" {
			if derr := h.idempotency.Delete(r.Context(), key); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.RecordPayment(r.Context(), PaymentInput{
		CounterpartyID: chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Method:         req.Method,
		Notes:          req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	counterpartyID := chi.URLParam(r, "id")
	ledger, err := h.readLedger(r.Context(), counterpartyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if ledger.HasDrift() && h.reconciler != nil {
		if err := h.reconciler.EnqueueLedgerReconcile(r.Context(), counterpartyID); err != nil {
			h.logger.Warn("enqueue ledger reconcile", slog.String("counterparty_id", counterpartyID), slog.Any("error", err))
		}
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 && page <= 0 {
		h.writeLedger(w, ledger, ledger.Entries, shared.SinglePage(len(ledger.Entries)))
		return
	}
	pg := shared.NewPagination(page, perPage, len(ledger.Entries))
	start, end := pg.Bounds()
	h.writeLedger(w, ledger, ledger.Entries[start:end], pg)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.service.BuildLedger(r.Context(), chi.URLParam(r, "id"), BuildOptions{Persist: true})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeLedger(w, ledger, ledger.Entries, shared.SinglePage(len(ledger.Entries)))
}

// readLedger coalesces concurrent read-only rebuilds of the same counterparty.
// The shared rebuild runs detached from the caller that started it, so one
// client disconnecting does not fail the others waiting on the same result.
func (h *Handler) readLedger(ctx context.Context, counterpartyID string) (Ledger, error) {
	ch := h.reads.DoChan(counterpartyID, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.readTimeout)
		defer cancel()
		return h.service.BuildLedger(buildCtx, counterpartyID, BuildOptions{})
	})
	select {
	case <-ctx.Done():
		return Ledger{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Ledger{}, res.Err
		}
		return res.Val.(Ledger), nil
	}
}

func (h *Handler) writeLedger(w http.ResponseWriter, ledger Ledger, entries []Entry, pg shared.Pagination) {
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, ledgerResponse{
		CounterpartyID: ledger.CounterpartyID,
		Counterparty:   ledger.Counterparty,
		Entries:        entries,
		Balance:        ledger.Balance,
		Cached:         ledger.Cached,
		Drift:          ledger.Drift,
		Healed:         ledger.Healed,
		Pagination:     pg,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		stockErr *inventory.StockInsufficientError
		valErr   *ValidationError
	)
	switch {
	case errors.As(err, &valErr):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:      "Validation Failed",
			Status:     http.StatusBadRequest,
			Detail:     valErr.Error(),
			Extensions: map[string]any{"fields": valErr.Fields},
		})
	case errors.As(err, &stockErr):
		inventory.WriteStockProblem(w, stockErr)
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Product Not Found", err.Error())
	case errors.Is(err, ErrCounterpartyNotFound):
		httpx.Problem(w, http.StatusNotFound, "Counterparty Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "this invoice was already submitted")
	case IsTransient(err):
		h.logger.Warn("ledger store conflict", slog.Any("error", err))
		httpx.RetryAfter(w, defaultRetryAfter)
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Busy", "the invoice was not applied, please retry")
	case errors.Is(err, ErrFetch):
		h.logger.Error("ledger fetch failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Ledger Unavailable", "history could not be read")
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
