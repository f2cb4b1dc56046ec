package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
	"github.com/joao-fontenele/bookstore-orderflow/internal/telemetry"
)

// OrderStore is the slice of the order repository the reconciler needs. The
// order row is always locked before any payment row.
type OrderStore interface {
	GetByID(ctx context.Context, q postgres.DBTX, id string, forUpdate bool) (*domain.Order, error)
	SetPaymentStatus(ctx context.Context, q postgres.DBTX, id string, status domain.OrderPaymentStatus) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type RedirectRequest struct {
	OrderID     string
	Amount      int64
	Description string
	ClientIP    string
	UserID      string
}

type RedirectView struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	PaymentURL    string `json:"payment_url"`
}

type StatusView struct {
	PaymentID            string               `json:"payment_id"`
	OrderID              string               `json:"order_id"`
	Status               domain.PaymentStatus `json:"status"`
	Amount               int64                `json:"amount"`
	Currency             string               `json:"currency"`
	TransactionID        string               `json:"transaction_id"`
	GatewayTransactionID string               `json:"gateway_transaction_id,omitempty"`
	ResponseCode         string               `json:"response_code,omitempty"`
	Message              string               `json:"message,omitempty"`
	PaidAt               *time.Time           `json:"paid_at,omitempty"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func newStatusView(p *domain.Payment) *StatusView {
	return &StatusView{
		PaymentID:            p.ID,
		OrderID:              p.OrderID,
		Status:               p.Status,
		Amount:               p.Amount,
		Currency:             p.Currency,
		TransactionID:        p.TransactionID,
		GatewayTransactionID: p.GatewayTransactionID,
		ResponseCode:         p.GatewayResponseCode,
		Message:              p.GatewayMessage,
		PaidAt:               p.PaidAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

// CallbackResult describes what a callback did. Duplicate is set when
// nothing changed, either because the payment was already terminal or because
// the callback answers a superseded attempt (Superseded).
type CallbackResult struct {
	PaymentID  string
	OrderID    string
	Status     domain.PaymentStatus
	Duplicate  bool
	Superseded bool
}

// Acknowledgement tokens returned to the gateway.
const (
	AckOK               = "OK"
	AckInvalidSignature = "INVALID_SIGNATURE"
	AckNotFound         = "NOT_FOUND"
	AckInvalidAmount    = "INVALID_AMOUNT"
	AckError            = "ERROR"
)

// Ack maps the result of ApplyCallback to the token the gateway expects.
func Ack(err error) string {
	switch {
	case err == nil:
		return AckOK
	case errors.Is(err, domain.ErrInvalidSignature):
		return AckInvalidSignature
	case errors.Is(err, domain.ErrNotFound):
		return AckNotFound
	case errors.Is(err, domain.ErrAmountMismatch):
		return AckInvalidAmount
	default:
		return AckError
	}
}

type Reconciler struct {
	db          *sql.DB
	orders      OrderStore
	payments    *PaymentRepository
	gateway     *Gateway
	publisher   Publisher
	instruments *telemetry.Instruments
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler wires the payment side. publisher and instruments may be nil.
func NewReconciler(
	db *sql.DB,
	orders OrderStore,
	payments *PaymentRepository,
	gateway *Gateway,
	publisher Publisher,
	instruments *telemetry.Instruments,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		db:          db,
		orders:      orders,
		payments:    payments,
		gateway:     gateway,
		publisher:   publisher,
		instruments: instruments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRedirect opens a new payment attempt for the caller's order and
// returns the signed URL to send the customer to. Open attempts for the same
// order are superseded. An Amount of zero charges the order total; any other
// amount must equal it.
func (r *Reconciler) CreateRedirect(ctx context.Context, req RedirectRequest) (*RedirectView, error) {
	var payment *domain.Payment
	err := postgres.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		order, err := r.orders.GetByID(ctx, tx, req.OrderID, true)
		if err != nil {
			return err
		}
		if order.UserID != req.UserID {
			return fmt.Errorf("order %s: %w", req.OrderID, domain.ErrForbidden)
		}
		if order.PaymentStatus == domain.OrderPaymentPaid {
			return fmt.Errorf("order %s: %w", req.OrderID, domain.ErrAlreadyPaid)
		}
		if order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("order %s is cancelled: %w", req.OrderID, domain.ErrInvalidTransition)
		}

		amount := req.Amount
		if amount == 0 {
			amount = order.TotalAmount
		}
		if amount != order.TotalAmount {
			return fmt.Errorf("order %s: requested %d, total %d: %w", req.OrderID, amount, order.TotalAmount, domain.ErrAmountMismatch)
		}

		if _, err := r.payments.SupersedeOpen(ctx, tx, order.ID); err != nil {
			return err
		}

		now := r.now()
		description := req.Description
		if description == "" {
			description = "Thanh toan don hang " + order.ID
		}
		transactionID := uuid.New().String()
		paymentURL, checksum := r.gateway.PaymentURL(PaymentRequest{
			TxnRef:    order.ID,
			Amount:    amount,
			OrderInfo: AttemptInfo(description, transactionID),
			ClientIP:  req.ClientIP,
			CreatedAt: now,
		})

		payment = &domain.Payment{
			ID:            uuid.New().String(),
			OrderID:       order.ID,
			Amount:        amount,
			Currency:      r.gateway.cfg.Currency,
			Status:        domain.PaymentStatusPending,
			TransactionID: transactionID,
			PaymentURL:    paymentURL,
			Checksum:      checksum,
			Description:   description,
			CreatedAt:     now,
		}
		return r.payments.Insert(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("payment redirect created", "order_id", payment.OrderID, "payment_id", payment.ID,
		"amount", payment.Amount)

	return &RedirectView{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		PaymentURL:    payment.PaymentURL,
	}, nil
}

// ApplyCallback verifies and applies a gateway callback. A callback for a
// payment that is already terminal, or for an attempt that has since been
// superseded, changes nothing and succeeds, so the gateway may deliver the
// same callback any number of times. Only a successful payment touches the
// order.
func (r *Reconciler) ApplyCallback(ctx context.Context, params map[string]string) (*CallbackResult, error) {
	result, err := r.applyCallback(ctx, params)
	r.instruments.PaymentCallback(ctx, Ack(err))
	return result, err
}

func (r *Reconciler) applyCallback(ctx context.Context, params map[string]string) (*CallbackResult, error) {
	cb, err := r.gateway.ParseCallback(params)
	if err != nil {
		r.logger.Warn("payment callback rejected", "error", err, "txn_ref", params["vnp_TxnRef"])
		return nil, err
	}

	var (
		order  *domain.Order
		result = &CallbackResult{OrderID: cb.TxnRef}
	)
	err = postgres.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		order, err = r.orders.GetByID(ctx, tx, cb.TxnRef, true)
		if err != nil {
			return err
		}
		payment, err := r.payments.LatestForOrder(ctx, tx, order.ID, true)
		if err != nil {
			return err
		}
		result.PaymentID = payment.ID
		result.Status = payment.Status

		if payment.Status.IsTerminal() {
			result.Duplicate = true
			return nil
		}
		if !cb.Answers(payment.TransactionID) {
			result.Duplicate = true
			result.Superseded = true
			return nil
		}
		if cb.Amount != payment.Amount*100 {
			return fmt.Errorf("payment %s: callback amount %d, expected %d: %w",
				payment.ID, cb.Amount, payment.Amount*100, domain.ErrAmountMismatch)
		}

		next := cb.Outcome()
		if !domain.CanTransitionPayment(payment.Status, next) {
			return fmt.Errorf("payment %s %s -> %s: %w", payment.ID, payment.Status, next, domain.ErrInvalidTransition)
		}

		payment.Status = next
		payment.GatewayTransactionID = cb.TransactionNo
		payment.GatewayResponseCode = cb.ResponseCode
		payment.GatewayMessage = cb.Describe()
		if next == domain.PaymentStatusCompleted {
			paidAt := r.now()
			payment.PaidAt = &paidAt
		}
		if err := r.payments.Update(ctx, tx, payment); err != nil {
			return err
		}
		result.Status = next

		if next != domain.PaymentStatusCompleted {
			return nil
		}
		if err := r.orders.SetPaymentStatus(ctx, tx, order.ID, domain.OrderPaymentPaid); err != nil {
			return err
		}
		order.PaymentStatus = domain.OrderPaymentPaid
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAmountMismatch) {
			r.logger.Warn("payment callback rejected", "error", err, "order_id", cb.TxnRef)
		} else {
			r.logger.Error("failed to apply payment callback", "error", err, "order_id", cb.TxnRef)
		}
		return nil, err
	}

	if result.Superseded {
		r.logger.Info("callback for superseded payment attempt ignored", "order_id", result.OrderID,
			"payment_id", result.PaymentID, "order_info", cb.OrderInfo)
		return result, nil
	}
	if result.Duplicate {
		r.logger.Info("duplicate payment callback ignored", "order_id", result.OrderID,
			"payment_id", result.PaymentID, "status", result.Status)
		return result, nil
	}

	r.logger.Info("payment callback applied", "order_id", result.OrderID, "payment_id", result.PaymentID,
		"status", result.Status, "response_code", cb.ResponseCode)
	r.publish(ctx, order, result)
	return result, nil
}

// HandleReturn processes the customer's browser coming back from the
// gateway. It only moves a PENDING attempt to PROCESSING; the IPN callback
// decides the outcome.
func (r *Reconciler) HandleReturn(ctx context.Context, params map[string]string) (*StatusView, error) {
	cb, err := r.gateway.ParseCallback(params)
	if err != nil {
		return nil, err
	}

	var payment *domain.Payment
	err = postgres.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		order, err := r.orders.GetByID(ctx, tx, cb.TxnRef, true)
		if err != nil {
			return err
		}
		payment, err = r.payments.LatestForOrder(ctx, tx, order.ID, true)
		if err != nil {
			return err
		}
		if payment.Status != domain.PaymentStatusPending || !cb.Answers(payment.TransactionID) {
			return nil
		}

		payment.Status = domain.PaymentStatusProcessing
		payment.GatewayResponseCode = cb.ResponseCode
		return r.payments.Update(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	return newStatusView(payment), nil
}

// GetStatus returns the latest attempt for the order. found is false when no
// payment was ever attempted.
func (r *Reconciler) GetStatus(ctx context.Context, orderID string) (view *StatusView, found bool, err error) {
	payment, err := r.payments.LatestForOrder(ctx, r.db, orderID, false)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return newStatusView(payment), true, nil
}

func (r *Reconciler) publish(ctx context.Context, order *domain.Order, result *CallbackResult) {
	if r.publisher == nil {
		return
	}

	eventType := domain.EventPaymentFailed
	if result.Status == domain.PaymentStatusCompleted {
		eventType = domain.EventPaymentCompleted
	}
	event := domain.NewOrderEvent(eventType, order, r.now())
	event.PaymentID = result.PaymentID

	if err := r.publisher.Publish(ctx, order.ID, event); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "order_id", order.ID, "type", eventType)
	}
}
