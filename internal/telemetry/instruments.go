package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the bookstore's domain counters. A nil *Instruments
// records nothing.
type Instruments struct {
	ordersCreated     metric.Int64Counter
	ordersCancelled   metric.Int64Counter
	paymentCallbacks  metric.Int64Counter
	stockReservations metric.Int64Counter
}

func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	if in.ordersCreated, err = meter.Int64Counter("bookstore.orders.created",
		metric.WithDescription("Orders accepted at checkout")); err != nil {
		return nil, err
	}
	if in.ordersCancelled, err = meter.Int64Counter("bookstore.orders.cancelled",
		metric.WithDescription("Orders cancelled with stock released")); err != nil {
		return nil, err
	}
	if in.paymentCallbacks, err = meter.Int64Counter("bookstore.payments.callbacks",
		metric.WithDescription("Gateway callbacks by outcome")); err != nil {
		return nil, err
	}
	if in.stockReservations, err = meter.Int64Counter("bookstore.stock.reservations",
		metric.WithDescription("Checkout reservation attempts by result")); err != nil {
		return nil, err
	}

	return &in, nil
}

func (in *Instruments) OrderCreated(ctx context.Context) {
	if in == nil {
		return
	}
	in.ordersCreated.Add(ctx, 1)
}

func (in *Instruments) OrderCancelled(ctx context.Context) {
	if in == nil {
		return
	}
	in.ordersCancelled.Add(ctx, 1)
}

// PaymentCallback counts one callback; outcome is the acknowledgement token
// returned to the gateway.
func (in *Instruments) PaymentCallback(ctx context.Context, outcome string) {
	if in == nil {
		return
	}
	in.paymentCallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *Instruments) StockReservation(ctx context.Context, result string) {
	if in == nil {
		return
	}
	in.stockReservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
