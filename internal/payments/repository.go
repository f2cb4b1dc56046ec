package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
)

const paymentColumns = `id, order_id, amount, currency, status, transaction_id,
		gateway_transaction_id, gateway_response_code, gateway_message, payment_url,
		checksum, description, created_at, updated_at, paid_at`

// CashOnDeliveryMessage marks the settlement payment recorded on delivery.
const CashOnDeliveryMessage = "cash on delivery"

type PaymentRepository struct {
	db       *sql.DB
	currency string
}

// NewPaymentRepository returns a repository that records settlements in the
// given currency.
func NewPaymentRepository(db *sql.DB, currency string) *PaymentRepository {
	return &PaymentRepository{db: db, currency: currency}
}

// Insert stores a new attempt. The partial unique index on open payments
// rejects a second open attempt for the same order.
func (r *PaymentRepository) Insert(ctx context.Context, q postgres.DBTX, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, status, transaction_id,
			gateway_transaction_id, gateway_response_code, gateway_message, payment_url,
			checksum, description, created_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13, $14)
	`, p.ID, p.OrderID, p.Amount, p.Currency, p.Status, p.TransactionID,
		p.GatewayTransactionID, p.GatewayResponseCode, p.GatewayMessage, p.PaymentURL,
		p.Checksum, p.Description, p.CreatedAt, p.PaidAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("order %s already has an open payment: %w", p.OrderID, domain.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

// LatestForOrder returns the most recent attempt for the order. With
// forUpdate the row stays locked until q's transaction ends.
func (r *PaymentRepository) LatestForOrder(ctx context.Context, q postgres.DBTX, orderID string, forUpdate bool) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPayment(q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment for order %s: %w", orderID, err)
	}
	return p, nil
}

// Update writes the status and the gateway's verdict fields.
func (r *PaymentRepository) Update(ctx context.Context, q postgres.DBTX, p *domain.Payment) error {
	result, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, gateway_transaction_id = $3, gateway_response_code = $4,
			gateway_message = $5, paid_at = $6, updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Status, p.GatewayTransactionID, p.GatewayResponseCode, p.GatewayMessage, p.PaidAt)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// SupersedeOpen cancels every open attempt of the order and reports how many
// were cancelled.
func (r *PaymentRepository) SupersedeOpen(ctx context.Context, q postgres.DBTX, orderID string) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE payments SET status = 'CANCELLED', updated_at = NOW()
		WHERE order_id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, orderID)
	if err != nil {
		return 0, fmt.Errorf("supersede payments for order %s: %w", orderID, err)
	}
	return result.RowsAffected()
}

// SettleOnDelivery records the money collected at the door as a COMPLETED
// payment, superseding any open gateway attempt first.
func (r *PaymentRepository) SettleOnDelivery(ctx context.Context, q postgres.DBTX, order *domain.Order) (*domain.Payment, error) {
	if _, err := r.SupersedeOpen(ctx, q, order.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &domain.Payment{
		OrderID:        order.ID,
		Amount:         order.TotalAmount,
		Currency:       r.currency,
		Status:         domain.PaymentStatusCompleted,
		TransactionID:  uuid.New().String(),
		GatewayMessage: CashOnDeliveryMessage,
		CreatedAt:      now,
		PaidAt:         &now,
	}
	if err := r.Insert(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	var (
		p                                                  domain.Payment
		gatewayTxn, responseCode, message, url, desc, hash sql.NullString
		paidAt                                             sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status, &p.TransactionID,
		&gatewayTxn, &responseCode, &message, &url, &hash, &desc,
		&p.CreatedAt, &p.UpdatedAt, &paidAt)
	if err != nil {
		return nil, err
	}

	p.GatewayTransactionID = gatewayTxn.String
	p.GatewayResponseCode = responseCode.String
	p.GatewayMessage = message.String
	p.PaymentURL = url.String
	p.Checksum = hash.String
	p.Description = desc.String
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}
