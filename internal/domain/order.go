package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipping  OrderStatus = "SHIPPING"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipping},
	OrderStatusShipping:  {OrderStatusDelivered},
}

// CanTransitionOrder reports whether an order may move from one fulfillment
// status to another. Terminal and unknown statuses allow nothing.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "COD"
	PaymentMethodBanking PaymentMethod = "BANKING"
)

// OrderPaymentStatus tracks money on the order, independently of fulfillment.
type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "PENDING"
	OrderPaymentPaid    OrderPaymentStatus = "PAID"
	OrderPaymentFailed  OrderPaymentStatus = "FAILED"
)

type Contact struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Email    string `json:"email"`
}

// OrderItem is a price and quantity snapshot taken when stock was reserved.
type OrderItem struct {
	ID        string `json:"id"`
	BookID    string `json:"book_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type Order struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Contact       Contact            `json:"contact"`
	Status        OrderStatus        `json:"status"`
	PaymentMethod PaymentMethod      `json:"payment_method"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	TotalAmount   int64              `json:"total_amount"`
	Items         []OrderItem        `json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (o *Order) ItemIDs() []string {
	ids := make([]string, len(o.Items))
	for i, item := range o.Items {
		ids[i] = item.ID
	}
	return ids
}

// ItemsTotal sums the line subtotals; it must equal TotalAmount.
func (o *Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal
	}
	return total
}
