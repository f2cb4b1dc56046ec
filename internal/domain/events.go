package domain

import "time"

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
	EventPaymentCompleted   EventType = "payment.completed"
	EventPaymentFailed      EventType = "payment.failed"
)

// OrderEvent is published to Kafka after the change it describes has committed.
type OrderEvent struct {
	Type          EventType          `json:"type"`
	OrderID       string             `json:"order_id"`
	UserID        string             `json:"user_id"`
	Email         string             `json:"email,omitempty"`
	FullName      string             `json:"full_name,omitempty"`
	Status        OrderStatus        `json:"status"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	TotalAmount   int64              `json:"total_amount"`
	PaymentID     string             `json:"payment_id,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

func NewOrderEvent(eventType EventType, order *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Email:         order.Contact.Email,
		FullName:      order.Contact.FullName,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		Timestamp:     at,
	}
}
