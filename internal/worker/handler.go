package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/messaging"
)

// NotificationHandler turns order events into customer emails sent through
// the email service.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode order event: %w: %w", messaging.ErrSkip, err)
	}

	mail, ok := compose(event)
	if !ok {
		h.logger.Debug("no notification for event", "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, mail); err != nil {
		h.logger.Error("failed to send notification", "error", err, "type", event.Type, "order_id", event.OrderID)
		return fmt.Errorf("notify %s for order %s: %w", event.Type, event.OrderID, err)
	}

	h.logger.Info("notification sent", "type", event.Type, "order_id", event.OrderID)
	return nil
}

// compose builds the email for events a customer hears about. Events without
// a recipient, and status changes other than shipping or delivery, produce
// nothing.
func compose(event domain.OrderEvent) (emailRequest, bool) {
	if event.Email == "" {
		return emailRequest{}, false
	}

	// The name is checkout input and goes into HTML.
	name := html.EscapeString(event.FullName)
	mail := emailRequest{To: event.Email}
	switch event.Type {
	case domain.EventOrderCreated:
		mail.Subject = "Order received: " + event.OrderID
		mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>We received your order %s for %d VND.</p>",
			name, event.OrderID, event.TotalAmount)
	case domain.EventOrderCancelled:
		mail.Subject = "Order cancelled: " + event.OrderID
		mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>Your order %s has been cancelled.</p>", name, event.OrderID)
	case domain.EventPaymentCompleted:
		mail.Subject = "Payment received: " + event.OrderID
		mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>We received %d VND for order %s.</p>",
			name, event.TotalAmount, event.OrderID)
	case domain.EventPaymentFailed:
		mail.Subject = "Payment failed: " + event.OrderID
		mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>The payment for order %s did not go through. You can try again from your order page.</p>",
			name, event.OrderID)
	case domain.EventOrderStatusChanged:
		switch event.Status {
		case domain.OrderStatusShipping:
			mail.Subject = "Order shipped: " + event.OrderID
			mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>Your order %s is on its way.</p>", name, event.OrderID)
		case domain.OrderStatusDelivered:
			mail.Subject = "Order delivered: " + event.OrderID
			mail.Body = fmt.Sprintf("<p>Hi %s,</p><p>Your order %s has been delivered.</p>", name, event.OrderID)
		default:
			return emailRequest{}, false
		}
	default:
		return emailRequest{}, false
	}
	return mail, true
}

func (h *NotificationHandler) sendEmail(ctx context.Context, mail emailRequest) error {
	data, err := json.Marshal(mail)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("email service rejected message: %w", messaging.ErrSkip)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
	return nil
}
