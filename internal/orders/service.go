package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/inventory"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
	"github.com/joao-fontenele/bookstore-orderflow/internal/telemetry"
)

// PaymentLedger is the part of the payment store the order lifecycle touches
// while it holds the order row lock.
type PaymentLedger interface {
	SupersedeOpen(ctx context.Context, q postgres.DBTX, orderID string) (int64, error)
	SettleOnDelivery(ctx context.Context, q postgres.DBTX, order *domain.Order) (*domain.Payment, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type LineRequest struct {
	BookID   string
	Quantity int
}

type CreateOrderInput struct {
	UserID        string
	Items         []LineRequest
	Contact       domain.Contact
	PaymentMethod domain.PaymentMethod
}

type Service struct {
	db          *sql.DB
	repo        *OrderRepository
	ledger      *inventory.Ledger
	payments    PaymentLedger
	publisher   Publisher
	instruments *telemetry.Instruments
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires the order lifecycle. publisher and instruments may be nil.
func NewService(
	db *sql.DB,
	repo *OrderRepository,
	ledger *inventory.Ledger,
	payments PaymentLedger,
	publisher Publisher,
	instruments *telemetry.Instruments,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		ledger:      ledger,
		payments:    payments,
		publisher:   publisher,
		instruments: instruments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder reserves stock for every line and persists the order in one
// transaction. Either every line is reserved and the order exists, or nothing
// changed.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderView, error) {
	lines, err := mergeLines(in.Items)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		UserID:        in.UserID,
		Contact:       in.Contact,
		Status:        domain.OrderStatusPending,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: domain.OrderPaymentPending,
		CreatedAt:     s.now(),
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, line := range lines {
			book, err := s.ledger.Reserve(ctx, tx, line.BookID, line.Quantity)
			if err != nil {
				return err
			}
			subtotal := book.Price * int64(line.Quantity)
			order.Items = append(order.Items, domain.OrderItem{
				BookID:    book.ID,
				Quantity:  line.Quantity,
				UnitPrice: book.Price,
				Subtotal:  subtotal,
			})
			order.TotalAmount += subtotal
		}
		return s.repo.Insert(ctx, tx, order)
	})
	if err != nil {
		s.instruments.StockReservation(ctx, reservationResult(err))
		return nil, err
	}
	s.instruments.StockReservation(ctx, "reserved")
	s.instruments.OrderCreated(ctx)

	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID,
		"items", len(order.Items), "total_amount", order.TotalAmount)
	s.publish(ctx, domain.EventOrderCreated, order)

	view := NewOrderView(order)
	return &view, nil
}

// mergeLines folds repeated books into one line and sorts lines by book id so
// concurrent checkouts lock book rows in the same order.
func mergeLines(items []LineRequest) ([]LineRequest, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	quantities := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("book %s: %w", item.BookID, domain.ErrInvalidQuantity)
		}
		quantities[item.BookID] += item.Quantity
	}

	lines := make([]LineRequest, 0, len(quantities))
	for bookID, qty := range quantities {
		lines = append(lines, LineRequest{BookID: bookID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].BookID < lines[j].BookID })
	return lines, nil
}

func reservationResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// UpdateStatus moves the order along its fulfillment table. Entering
// DELIVERED settles an unpaid order, and CANCELLED is routed through
// CancelOrder so stock is released.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*OrderView, error) {
	if status == domain.OrderStatusCancelled {
		return s.CancelOrder(ctx, orderID)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrInvalidTransition)
	}

	var order *domain.Order
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		order, err = s.repo.GetByID(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if !domain.CanTransitionOrder(order.Status, status) {
			return fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, status, domain.ErrInvalidTransition)
		}

		if err := s.repo.UpdateStatus(ctx, tx, orderID, status); err != nil {
			return err
		}
		order.Status = status

		if status == domain.OrderStatusDelivered && order.PaymentStatus != domain.OrderPaymentPaid {
			if _, err := s.payments.SettleOnDelivery(ctx, tx, order); err != nil {
				return err
			}
			if err := s.repo.SetPaymentStatus(ctx, tx, orderID, domain.OrderPaymentPaid); err != nil {
				return err
			}
			order.PaymentStatus = domain.OrderPaymentPaid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	order.UpdatedAt = s.now()

	s.logger.Info("order status updated", "order_id", order.ID, "status", order.Status,
		"payment_status", order.PaymentStatus)
	s.publish(ctx, domain.EventOrderStatusChanged, order)

	view := NewOrderView(order)
	return &view, nil
}

// CancelOrder cancels a PENDING order, gives every reserved unit back and
// supersedes any open payment attempt. The order row lock makes the release
// happen at most once.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*OrderView, error) {
	var order *domain.Order
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		order, err = s.repo.GetByID(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if !domain.CanTransitionOrder(order.Status, domain.OrderStatusCancelled) {
			return fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, domain.OrderStatusCancelled, domain.ErrInvalidTransition)
		}
		if order.PaymentStatus == domain.OrderPaymentPaid {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyPaid)
		}

		for _, item := range order.Items {
			if _, err := s.ledger.Release(ctx, tx, item.BookID, item.Quantity); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateStatus(ctx, tx, orderID, domain.OrderStatusCancelled); err != nil {
			return err
		}
		if _, err := s.payments.SupersedeOpen(ctx, tx, orderID); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	order.UpdatedAt = s.now()
	s.instruments.OrderCancelled(ctx)

	s.logger.Info("order cancelled", "order_id", order.ID, "items", len(order.Items))
	s.publish(ctx, domain.EventOrderCancelled, order)

	view := NewOrderView(order)
	return &view, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*OrderView, error) {
	order, err := s.repo.GetByID(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	view := NewOrderView(order)
	return &view, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]OrderView, error) {
	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, len(orders))
	for i := range orders {
		views[i] = NewOrderView(&orders[i])
	}
	return views, nil
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	event := domain.NewOrderEvent(eventType, order, s.now())
	if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "order_id", order.ID, "type", eventType)
	}
}
