package inventory

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
)

var (
	reserveSQL = regexp.QuoteMeta(`SET quantity = quantity - $2`)
	releaseSQL = regexp.QuoteMeta(`SET quantity = quantity + $2`)
	existsSQL  = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`)
)

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements and returns the remaining quantity", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(reserveSQL).
			WithArgs("B1", 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price", "quantity", "updated_at"}).
				AddRow("B1", "Dune", int64(50000), 8, time.Now()))

		book, err := NewLedger().Reserve(ctx, db, "B1", 2)
		require.NoError(t, err)
		assert.Equal(t, 8, book.Quantity)
		assert.Equal(t, int64(50000), book.Price)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no matching row with existing book is insufficient stock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(reserveSQL).
			WithArgs("B1", 5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price", "quantity", "updated_at"}))
		mock.ExpectQuery(existsSQL).
			WithArgs("B1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err = NewLedger().Reserve(ctx, db, "B1", 5)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown book is not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(reserveSQL).
			WithArgs("nope", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price", "quantity", "updated_at"}))
		mock.ExpectQuery(existsSQL).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err = NewLedger().Reserve(ctx, db, "nope", 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive quantities without touching the store", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		_, err = NewLedger().Reserve(ctx, db, "B1", 0)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("increments the counter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(releaseSQL).
			WithArgs("B1", 2).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(10))

		qty, err := NewLedger().Release(ctx, db, "B1", 2)
		require.NoError(t, err)
		assert.Equal(t, 10, qty)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing book", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(releaseSQL).
			WithArgs("gone", 1).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}))

		_, err = NewLedger().Release(ctx, db, "gone", 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
