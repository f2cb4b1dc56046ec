package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/bookstore-orderflow/internal/config"
	"github.com/joao-fontenele/bookstore-orderflow/internal/inventory"
	"github.com/joao-fontenele/bookstore-orderflow/internal/messaging"
	"github.com/joao-fontenele/bookstore-orderflow/internal/orders"
	"github.com/joao-fontenele/bookstore-orderflow/internal/payments"
	"github.com/joao-fontenele/bookstore-orderflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	env, err := config.Required("POSTGRES_URL")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	gatewayCfg, err := config.LoadPaymentGateway()
	if err != nil {
		logger.Error("invalid payment gateway configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	instruments, err := telemetry.NewInstruments(otel.Meter("bookstore/orders"))
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	maxConns, err := config.Int("DB_MAX_OPEN_CONNS", 20)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(ctx, env["POSTGRES_URL"], telemetry.PoolConfig{
		MaxOpenConns:    maxConns,
		MaxIdleConns:    maxConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Events are optional. The publisher stays a nil interface without
	// brokers, which the services treat as "do not publish".
	var publisher orders.Publisher
	if brokers := config.List("KAFKA_BROKERS"); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers, messaging.TopicOrders)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	orderRepo := orders.NewOrderRepository(db)
	paymentRepo := payments.NewPaymentRepository(db, gatewayCfg.Currency)

	orderService := orders.NewService(db, orderRepo, inventory.NewLedger(), paymentRepo, publisher, instruments, logger)
	reconciler := payments.NewReconciler(db, orderRepo, paymentRepo, payments.NewGateway(gatewayCfg), publisher, instruments, logger)

	orderHandler := orders.NewHandler(orderService, logger)
	paymentHandler := payments.NewHandler(reconciler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(orderHandler.HandleCancel))
	mux.HandleFunc("GET /orders/{id}/payment", telemetry.WithHTTPRoute(paymentHandler.HandleGetStatus))
	mux.HandleFunc("POST /payments", telemetry.WithHTTPRoute(paymentHandler.HandleCreateRedirect))
	mux.HandleFunc("GET /payments/ipn", telemetry.WithHTTPRoute(paymentHandler.HandleIPN))
	mux.HandleFunc("GET /payments/return", telemetry.WithHTTPRoute(paymentHandler.HandleReturn))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8081")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
