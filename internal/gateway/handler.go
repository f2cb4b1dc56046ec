package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Handler maps the public routes onto the orders and inventory services.
type Handler struct {
	ordersProxy    *ServiceProxy
	inventoryProxy *ServiceProxy
	logger         *slog.Logger
}

func NewHandler(ordersProxy, inventoryProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:    ordersProxy,
		inventoryProxy: inventoryProxy,
		logger:         logger,
	}
}

// HandleOrders forwards /orders routes; the orders service uses the same paths.
func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "orders", h.ordersProxy, r.URL.Path)
}

// HandlePayments forwards redirect creation and the gateway's IPN and return
// callbacks. Callback acknowledgements are plain text and pass through as is.
func (h *Handler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "payments", h.ordersProxy, r.URL.Path)
}

// HandleStock serves the public stock listing.
func (h *Handler) HandleStock(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "inventory", h.inventoryProxy, "/stock")
}

// HandleBook serves a single catalog entry, read or upsert.
func (h *Handler) HandleBook(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookId")
	if bookID == "" {
		h.writeError(w, http.StatusNotFound, "book not found")
		return
	}
	h.forward(w, r, "inventory", h.inventoryProxy, "/books/"+url.PathEscape(bookID))
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, upstream string, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "upstream", upstream, "path", path)
		h.writeError(w, http.StatusBadGateway, upstream+" service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "upstream", upstream, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err, "upstream", upstream)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
