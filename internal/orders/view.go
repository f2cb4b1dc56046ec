package orders

import (
	"time"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
)

// OrderView is what callers outside the service see of an order.
type OrderView struct {
	ID            string                    `json:"id"`
	UserID        string                    `json:"user_id"`
	Contact       domain.Contact            `json:"contact"`
	Status        domain.OrderStatus        `json:"status"`
	PaymentMethod domain.PaymentMethod      `json:"payment_method"`
	PaymentStatus domain.OrderPaymentStatus `json:"payment_status"`
	TotalAmount   int64                     `json:"total_amount"`
	ItemIDs       []string                  `json:"item_ids"`
	Items         []domain.OrderItem        `json:"items"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func NewOrderView(o *domain.Order) OrderView {
	items := o.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	return OrderView{
		ID:            o.ID,
		UserID:        o.UserID,
		Contact:       o.Contact,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		ItemIDs:       o.ItemIDs(),
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
