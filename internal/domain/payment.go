package domain

import "time"

// PaymentStatus is the lifecycle of a single gateway payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing,
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
	// The customer came back from the gateway; the IPN still decides the outcome.
	PaymentStatusProcessing: {
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusCancelled,
	},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

type Payment struct {
	ID                   string        `json:"id"`
	OrderID              string        `json:"order_id"`
	Amount               int64         `json:"amount"`
	Currency             string        `json:"currency"`
	Status               PaymentStatus `json:"status"`
	TransactionID        string        `json:"transaction_id"`
	GatewayTransactionID string        `json:"gateway_transaction_id,omitempty"`
	GatewayResponseCode  string        `json:"gateway_response_code,omitempty"`
	GatewayMessage       string        `json:"gateway_message,omitempty"`
	PaymentURL           string        `json:"payment_url,omitempty"`
	Checksum             string        `json:"-"`
	Description          string        `json:"description,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
}
