package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
)

const orderColumns = `id, user_id, full_name, phone, address, email, status,
		payment_method, payment_status, total_amount, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ListFilter narrows List; empty fields match everything.
type ListFilter struct {
	UserID string
	Status domain.OrderStatus
	Limit  int
}

// Insert stores the order and its items, assigning ids to both.
func (r *OrderRepository) Insert(ctx context.Context, q postgres.DBTX, order *domain.Order) error {
	order.ID = uuid.New().String()

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, full_name, phone, address, email, status,
			payment_method, payment_status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, order.ID, order.UserID, order.Contact.FullName, order.Contact.Phone, order.Contact.Address,
		order.Contact.Email, order.Status, order.PaymentMethod, order.PaymentStatus, order.TotalAmount,
		order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.UpdatedAt = order.CreatedAt

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, book_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.BookID, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.BookID, err)
		}
	}

	return nil
}

// GetByID loads the order with its items. With forUpdate the order row stays
// locked until q's transaction ends.
func (r *OrderRepository) GetByID(ctx context.Context, q postgres.DBTX, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, book_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY book_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.BookID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, q postgres.DBTX, id string, status domain.OrderStatus) error {
	return r.exec(ctx, q, id, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, status)
}

// SetPaymentStatus records the money side of the order. A PAID order is never
// moved back to another payment status.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, q postgres.DBTX, id string, status domain.OrderPaymentStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND (payment_status <> 'PAID' OR $2 = 'PAID')
	`, id, status)
	if err != nil {
		return fmt.Errorf("set payment status %s: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) exec(ctx context.Context, q postgres.DBTX, id, query string, arg any) error {
	result, err := q.ExecContext(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns orders newest first with their items, loading items for the
// whole page in one query.
func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, filter.UserID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, book_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY book_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ID, &item.BookID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Contact.FullName, &o.Contact.Phone, &o.Contact.Address,
		&o.Contact.Email, &o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.TotalAmount,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
