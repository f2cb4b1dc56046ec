package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
)

// CatalogRepository is the read/write surface of the book catalog that the
// checkout flow depends on.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) ListBooks(ctx context.Context) ([]domain.Book, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, price, quantity, updated_at
		FROM books
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	books := []domain.Book{}
	for rows.Next() {
		var book domain.Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Price, &book.Quantity, &book.UpdatedAt); err != nil {
			return nil, err
		}
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

func (r *CatalogRepository) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	book := &domain.Book{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, price, quantity, updated_at
		FROM books
		WHERE id = $1
	`, id).Scan(&book.ID, &book.Title, &book.Price, &book.Quantity, &book.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return book, nil
}

// SaveBook upserts a catalog entry. Quantity is written as given; it is the
// restock path, not a reservation.
func (r *CatalogRepository) SaveBook(ctx context.Context, book *domain.Book) error {
	if book.Quantity < 0 {
		return fmt.Errorf("book %s: %w", book.ID, domain.ErrInvalidQuantity)
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO books (id, title, price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price, quantity = EXCLUDED.quantity, updated_at = NOW()
		RETURNING updated_at
	`, book.ID, book.Title, book.Price, book.Quantity).Scan(&book.UpdatedAt)
}
