package orders

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/inventory"
	"github.com/joao-fontenele/bookstore-orderflow/internal/postgres"
)

var (
	reserveSQL       = regexp.QuoteMeta(`SET quantity = quantity - $2`)
	releaseSQL       = regexp.QuoteMeta(`SET quantity = quantity + $2`)
	existsSQL        = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`)
	lockOrderSQL     = regexp.QuoteMeta(`FROM orders WHERE id = $1 FOR UPDATE`)
	itemsSQL         = regexp.QuoteMeta(`FROM order_items`)
	insertOrderSQL   = regexp.QuoteMeta(`INSERT INTO orders`)
	insertItemSQL    = regexp.QuoteMeta(`INSERT INTO order_items`)
	updateStatusSQL  = regexp.QuoteMeta(`UPDATE orders SET status = $2`)
	paymentStatusSQL = regexp.QuoteMeta(`UPDATE orders SET payment_status = $2`)
	bookColumns      = []string{"id", "title", "price", "quantity", "updated_at"}
	orderColumnNames = []string{"id", "user_id", "full_name", "phone", "address", "email", "status", "payment_method", "payment_status", "total_amount", "created_at", "updated_at"}
	orderItemColumns = []string{"id", "book_id", "quantity", "unit_price", "subtotal"}
)

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.OrderEvent))
	return nil
}

type fakePaymentLedger struct {
	superseded []string
	settled    []string
}

func (l *fakePaymentLedger) SupersedeOpen(_ context.Context, _ postgres.DBTX, orderID string) (int64, error) {
	l.superseded = append(l.superseded, orderID)
	return 1, nil
}

func (l *fakePaymentLedger) SettleOnDelivery(_ context.Context, _ postgres.DBTX, order *domain.Order) (*domain.Payment, error) {
	l.settled = append(l.settled, order.ID)
	return &domain.Payment{OrderID: order.ID, Amount: order.TotalAmount, Status: domain.PaymentStatusCompleted}, nil
}

type serviceFixture struct {
	service   *Service
	mock      sqlmock.Sqlmock
	publisher *fakePublisher
	payments  *fakePaymentLedger
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &serviceFixture{mock: mock, publisher: &fakePublisher{}, payments: &fakePaymentLedger{}}
	f.service = NewService(db, NewOrderRepository(db), inventory.NewLedger(), f.payments, f.publisher, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func expectLockedOrder(mock sqlmock.Sqlmock, id string, status domain.OrderStatus, paymentStatus domain.OrderPaymentStatus) {
	now := time.Now()
	mock.ExpectQuery(lockOrderSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(orderColumnNames).
			AddRow(id, "user-1", "Nguyen Van A", "0900000000", "1 Le Loi", "a@example.com",
				string(status), "BANKING", string(paymentStatus), int64(220000), now, now))
	mock.ExpectQuery(itemsSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(orderItemColumns).
			AddRow("item-1", "B1", 2, int64(50000), int64(100000)).
			AddRow("item-2", "B2", 1, int64(120000), int64(120000)))
}

func TestService_CreateOrder(t *testing.T) {
	ctx := context.Background()
	contact := domain.Contact{FullName: "Nguyen Van A", Phone: "0900000000", Address: "1 Le Loi", Email: "a@example.com"}

	t.Run("reserves merged lines in book order and snapshots prices", func(t *testing.T) {
		f := newServiceFixture(t)
		now := time.Now()

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(reserveSQL).WithArgs("B1", 2).
			WillReturnRows(sqlmock.NewRows(bookColumns).AddRow("B1", "Dune", int64(50000), 8, now))
		f.mock.ExpectQuery(reserveSQL).WithArgs("B2", 2).
			WillReturnRows(sqlmock.NewRows(bookColumns).AddRow("B2", "Emma", int64(120000), 0, now))
		f.mock.ExpectExec(insertOrderSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(insertItemSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(insertItemSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.service.CreateOrder(ctx, CreateOrderInput{
			UserID:        "user-1",
			Items:         []LineRequest{{BookID: "B2", Quantity: 1}, {BookID: "B1", Quantity: 2}, {BookID: "B2", Quantity: 1}},
			Contact:       contact,
			PaymentMethod: domain.PaymentMethodBanking,
		})
		require.NoError(t, err)
		require.NoError(t, f.mock.ExpectationsWereMet())

		require.Len(t, order.Items, 2)
		assert.Equal(t, "B1", order.Items[0].BookID)
		assert.Equal(t, int64(100000), order.Items[0].Subtotal)
		assert.Equal(t, int64(240000), order.Items[1].Subtotal)
		assert.Equal(t, int64(340000), order.TotalAmount)
		assert.Len(t, order.ItemIDs, 2)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, domain.OrderPaymentPending, order.PaymentStatus)

		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, domain.EventOrderCreated, f.publisher.events[0].Type)
		assert.Equal(t, order.ID, f.publisher.events[0].OrderID)
	})

	t.Run("a short line rolls back every reservation", func(t *testing.T) {
		f := newServiceFixture(t)
		now := time.Now()

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(reserveSQL).WithArgs("B1", 1).
			WillReturnRows(sqlmock.NewRows(bookColumns).AddRow("B1", "Dune", int64(50000), 9, now))
		f.mock.ExpectQuery(reserveSQL).WithArgs("B3", 2).
			WillReturnRows(sqlmock.NewRows(bookColumns))
		f.mock.ExpectQuery(existsSQL).WithArgs("B3").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		f.mock.ExpectRollback()

		_, err := f.service.CreateOrder(ctx, CreateOrderInput{
			UserID:        "user-1",
			Items:         []LineRequest{{BookID: "B1", Quantity: 1}, {BookID: "B3", Quantity: 2}},
			Contact:       contact,
			PaymentMethod: domain.PaymentMethodCOD,
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Empty(t, f.publisher.events)
	})

	t.Run("unknown book fails with not found", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(reserveSQL).WithArgs("nope", 1).WillReturnRows(sqlmock.NewRows(bookColumns))
		f.mock.ExpectQuery(existsSQL).WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectRollback()

		_, err := f.service.CreateOrder(ctx, CreateOrderInput{
			UserID: "user-1",
			Items:  []LineRequest{{BookID: "nope", Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("empty order never opens a transaction", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.service.CreateOrder(ctx, CreateOrderInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrEmptyOrder)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("non-positive quantity is rejected", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.service.CreateOrder(ctx, CreateOrderInput{
			UserID: "user-1",
			Items:  []LineRequest{{BookID: "B1", Quantity: 0}},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestService_CancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("releases every line once and supersedes open payments", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusPending, domain.OrderPaymentPending)
		f.mock.ExpectQuery(releaseSQL).WithArgs("B1", 2).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(10))
		f.mock.ExpectQuery(releaseSQL).WithArgs("B2", 1).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(1))
		f.mock.ExpectExec(updateStatusSQL).WithArgs("order-1", domain.OrderStatusCancelled).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.service.CancelOrder(ctx, "order-1")
		require.NoError(t, err)
		require.NoError(t, f.mock.ExpectationsWereMet())

		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		assert.Equal(t, []string{"order-1"}, f.payments.superseded)
		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, domain.EventOrderCancelled, f.publisher.events[0].Type)
	})

	t.Run("only pending orders can be cancelled", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusShipping, domain.OrderPaymentPending)
		f.mock.ExpectRollback()

		_, err := f.service.CancelOrder(ctx, "order-1")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Empty(t, f.payments.superseded)
	})

	t.Run("paid orders are not cancelled", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusPending, domain.OrderPaymentPaid)
		f.mock.ExpectRollback()

		_, err := f.service.CancelOrder(ctx, "order-1")
		assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockOrderSQL).WithArgs("missing").WillReturnRows(sqlmock.NewRows(orderColumnNames))
		f.mock.ExpectRollback()

		_, err := f.service.CancelOrder(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("follows the fulfillment table", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusPending, domain.OrderPaymentPending)
		f.mock.ExpectExec(updateStatusSQL).WithArgs("order-1", domain.OrderStatusConfirmed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
		assert.Equal(t, domain.OrderPaymentPending, order.PaymentStatus)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		require.Len(t, f.publisher.events, 1)
		assert.Equal(t, domain.EventOrderStatusChanged, f.publisher.events[0].Type)
	})

	t.Run("skipping a step is rejected", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusPending, domain.OrderPaymentPending)
		f.mock.ExpectRollback()

		_, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatusShipping)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Empty(t, f.publisher.events)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatus("LOST"))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("delivery settles an unpaid order", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusShipping, domain.OrderPaymentPending)
		f.mock.ExpectExec(updateStatusSQL).WithArgs("order-1", domain.OrderStatusDelivered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(paymentStatusSQL).WithArgs("order-1", domain.OrderPaymentPaid).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatusDelivered)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivered, order.Status)
		assert.Equal(t, domain.OrderPaymentPaid, order.PaymentStatus)
		assert.Equal(t, []string{"order-1"}, f.payments.settled)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("delivery of a paid order leaves payments alone", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusShipping, domain.OrderPaymentPaid)
		f.mock.ExpectExec(updateStatusSQL).WithArgs("order-1", domain.OrderStatusDelivered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		_, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatusDelivered)
		require.NoError(t, err)
		assert.Empty(t, f.payments.settled)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cancelling through status update releases stock", func(t *testing.T) {
		f := newServiceFixture(t)

		f.mock.ExpectBegin()
		expectLockedOrder(f.mock, "order-1", domain.OrderStatusPending, domain.OrderPaymentPending)
		f.mock.ExpectQuery(releaseSQL).WithArgs("B1", 2).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(10))
		f.mock.ExpectQuery(releaseSQL).WithArgs("B2", 1).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(1))
		f.mock.ExpectExec(updateStatusSQL).WithArgs("order-1", domain.OrderStatusCancelled).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		order, err := f.service.UpdateStatus(ctx, "order-1", domain.OrderStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}
