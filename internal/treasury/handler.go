package treasury

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/platform/httpx"
)

// TreasuryService is the subset of Service the HTTP layer needs.
type TreasuryService interface {
	RecordMovement(ctx context.Context, typ MovementType, op Operation, amount decimal.Decimal, description string) (Movement, error)
	Movements(ctx context.Context, day time.Time, typ MovementType) ([]Movement, Totals, error)
	CloseDay(ctx context.Context, input DailyCloseInput) (DailyClose, error)
}

// Handler wires HTTP endpoints for the treasury.
type Handler struct {
	logger  *slog.Logger
	service TreasuryService
	now     func() time.Time
}

// NewHandler constructs the treasury handler.
func NewHandler(logger *slog.Logger, service TreasuryService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: func() time.Time { return time.Now().UTC() }}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.handleList)
	r.Post("/movements", h.handleRecord)
	r.Post("/close", h.handleClose)
}

type movementRequest struct {
	Type        MovementType    `json:"type"`
	Operation   Operation       `json:"operation"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type movementListResponse struct {
	Day       string     `json:"day"`
	Movements []Movement `json:"movements"`
	Totals    Totals     `json:"totals"`
}

type closeRequest struct {
	Day      string          `json:"day"`
	Opening  decimal.Decimal `json:"opening"`
	Inflow   decimal.Decimal `json:"inflow"`
	Expenses decimal.Decimal `json:"expenses"`
	Closing  decimal.Decimal `json:"closing"`
	Notes    string          `json:"notes"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	day := h.now()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	movements, totals, err := h.service.Movements(r.Context(), day, MovementType(r.URL.Query().Get("type")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, movementListResponse{Day: day.Format(time.DateOnly), Movements: movements, Totals: totals})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.RecordMovement(r.Context(), req.Type, req.Operation, req.Amount, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := time.Parse(time.DateOnly, req.Day)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "day must be YYYY-MM-DD")
		return
	}
	closing, err := h.service.CloseDay(r.Context(), DailyCloseInput{
		Day:      day,
		Opening:  req.Opening,
		Inflow:   req.Inflow,
		Expenses: req.Expenses,
		Closing:  req.Closing,
		Notes:    req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, closing)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidMovement), errors.Is(err, ErrInvalidClose):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrDayAlreadyClosed):
		httpx.Problem(w, http.StatusConflict, "Already Closed", err.Error())
	default:
		h.logger.Error("treasury request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
