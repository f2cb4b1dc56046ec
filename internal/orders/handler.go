package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

type lineRequest struct {
	BookID   string `json:"book_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type contactRequest struct {
	FullName string `json:"full_name" validate:"required,max=255"`
	Phone    string `json:"phone" validate:"required,max=32"`
	Address  string `json:"address" validate:"required,max=512"`
	Email    string `json:"email" validate:"required,email"`
}

type createOrderRequest struct {
	Items         []lineRequest  `json:"items" validate:"dive"`
	Contact       contactRequest `json:"contact"`
	PaymentMethod string         `json:"payment_method" validate:"required,oneof=COD BANKING"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]LineRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = LineRequest{BookID: item.BookID, Quantity: item.Quantity}
	}

	order, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		UserID: userID,
		Items:  items,
		Contact: domain.Contact{
			FullName: req.Contact.FullName,
			Phone:    req.Contact.Phone,
			Address:  req.Contact.Address,
			Email:    req.Contact.Email,
		},
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order")
		return
	}
	if !canAccess(r, order.UserID) {
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// HandleList lists the caller's own orders. Admins may list any user's orders
// or filter by status.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{
		UserID: query.Get("user_id"),
		Status: domain.OrderStatus(query.Get("status")),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if r.Header.Get(HeaderUserRole) != RoleAdmin {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			h.writeError(w, http.StatusUnauthorized, "missing user")
			return
		}
		filter.UserID = userID
	}

	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING CONFIRMED SHIPPING DELIVERED CANCELLED"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	if r.Header.Get(HeaderUserRole) != RoleAdmin {
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, domain.OrderStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	current, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel order")
		return
	}
	if !canAccess(r, current.UserID) {
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func canAccess(r *http.Request, ownerID string) bool {
	if r.Header.Get(HeaderUserRole) == RoleAdmin {
		return true
	}
	userID := r.Header.Get(HeaderUserID)
	return userID != "" && userID == ownerID
}

// statusCode maps domain errors to HTTP statuses; anything else is a 500.
func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyPaid):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
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
