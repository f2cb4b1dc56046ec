package payments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/signing"
)

const headerUserID = "X-User-ID"

type Handler struct {
	reconciler *Reconciler
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		validate:   validator.New(),
		logger:     logger,
	}
}

type createRedirectRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) HandleCreateRedirect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	var req createRedirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.reconciler.CreateRedirect(r.Context(), RedirectRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
		ClientIP:    clientIP(r),
		UserID:      userID,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create payment redirect")
		return
	}

	h.writeJSON(w, http.StatusCreated, view)
}

// HandleIPN receives the gateway's server-to-server callback and answers with
// a plain-text acknowledgement token.
func (h *Handler) HandleIPN(w http.ResponseWriter, r *http.Request) {
	_, err := h.reconciler.ApplyCallback(r.Context(), signing.FromValues(r.URL.Query()))
	ack := Ack(err)

	status := http.StatusOK
	switch ack {
	case AckInvalidSignature, AckInvalidAmount:
		status = http.StatusBadRequest
	case AckNotFound:
		status = http.StatusNotFound
	case AckError:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(ack))
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	view, err := h.reconciler.HandleReturn(r.Context(), signing.FromValues(r.URL.Query()))
	if err != nil {
		h.writeServiceError(w, err, "failed to handle payment return")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	view, found, err := h.reconciler.GetStatus(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get payment status")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "no payment for order")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// clientIP prefers the first X-Forwarded-For hop set by the gateway.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	status := statusCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		h.writeError(w, status, "internal server error")
		return
	}
	h.writeError(w, status, err.Error())
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
