package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
)

type Handler struct {
	catalog  *CatalogRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(catalog *CatalogRepository, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.ListBooks(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock listed", "count", len(books))
	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookId")
	if bookID == "" {
		h.writeError(w, http.StatusBadRequest, "missing book id")
		return
	}

	book, err := h.catalog.GetBook(r.Context(), bookID)
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get book", "error", err, "book_id", bookID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, book)
}

type saveBookRequest struct {
	Title    string `json:"title" validate:"required,max=255"`
	Price    int64  `json:"price" validate:"gte=0"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

func (h *Handler) HandleSaveBook(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookId")
	if bookID == "" {
		h.writeError(w, http.StatusBadRequest, "missing book id")
		return
	}

	var req saveBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book := &domain.Book{ID: bookID, Title: req.Title, Price: req.Price, Quantity: req.Quantity}
	if err := h.catalog.SaveBook(r.Context(), book); err != nil {
		h.logger.Error("failed to save book", "error", err, "book_id", bookID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("book saved", "book_id", bookID, "quantity", book.Quantity)
	h.writeJSON(w, http.StatusOK, book)
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
