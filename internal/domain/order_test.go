package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOrder(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusConfirmed: {OrderStatusShipping},
		OrderStatusShipping:  {OrderStatusDelivered},
	}
	all := []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusShipping,
		OrderStatusDelivered, OrderStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equalf(t, want, CanTransitionOrder(from, to), "%s -> %s", from, to)
		}
	}

	t.Run("unknown statuses never transition", func(t *testing.T) {
		assert.False(t, CanTransitionOrder("LOST", OrderStatusConfirmed))
		assert.False(t, CanTransitionOrder(OrderStatusPending, "LOST"))
	})
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusShipping.IsTerminal())
}

func TestOrder_ItemsTotal(t *testing.T) {
	order := &Order{
		TotalAmount: 160000,
		Items: []OrderItem{
			{ID: "a", Quantity: 2, UnitPrice: 50000, Subtotal: 100000},
			{ID: "b", Quantity: 3, UnitPrice: 20000, Subtotal: 60000},
		},
	}

	assert.Equal(t, order.TotalAmount, order.ItemsTotal())
	assert.Equal(t, []string{"a", "b"}, order.ItemIDs())
}
