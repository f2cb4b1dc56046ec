package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
)

// Ledger owns the per-book stock counters. Every mutation is a single
// conditional statement, so concurrent reservations against the same book
// never both succeed when their sum exceeds the available quantity.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve decrements the book's quantity by qty and returns the book as it
// stands after the decrement, including the price in force at that moment.
func (l *Ledger) Reserve(ctx context.Context, q postgres.DBTX, bookID string, qty int) (*domain.Book, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	book := &domain.Book{}
	err := q.QueryRowContext(ctx, `
		UPDATE books
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING id, title, price, quantity, updated_at
	`, bookID, qty).Scan(&book.ID, &book.Title, &book.Price, &book.Quantity, &book.UpdatedAt)
	if err == nil {
		return book, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve %s: %w", bookID, err)
	}

	exists, err := bookExists(ctx, q, bookID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrInsufficientStock)
}

// Release gives qty units back to the book. Callers release a reservation at
// most once.
func (l *Ledger) Release(ctx context.Context, q postgres.DBTX, bookID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var quantity int
	err := q.QueryRowContext(ctx, `
		UPDATE books
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING quantity
	`, bookID, qty).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", bookID, err)
	}

	return quantity, nil
}

func bookExists(ctx context.Context, q postgres.DBTX, bookID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, bookID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup book %s: %w", bookID, err)
	}
	return exists, nil
}
