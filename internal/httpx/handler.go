package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/payment-worker/internal/ledger"
)

// Pinger is anything whose liveness the health check should verify (the
// Redis client and the sqlite ledger).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ops endpoints. All dependencies are injected; it owns
// no connections.
type Handler struct {
	ledger  ledger.Repository
	pingers map[string]Pinger
}

func NewHandler(repo ledger.Repository, pingers map[string]Pinger) *Handler {
	return &Handler{ledger: repo, pingers: pingers}
}

type paymentResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	OrderID   int64     `json:"order_id"`
	Amount    int64     `json:"payment_amount"`
	CreatedAt time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Health pings every registered dependency and reports 503 when any fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetPayment returns the latest ledger row for an (order, user) pair.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order_id", err.Error())
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", err.Error())
		return
	}

	rec, err := h.ledger.LastByOrderAndUser(r.Context(), orderID, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "payment_not_found", "")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "ledger lookup failed", "order_id", orderID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		ID:        rec.ID,
		UserID:    rec.UserID,
		OrderID:   rec.OrderID,
		Amount:    rec.Amount,
		CreatedAt: rec.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
