package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/joao-fontenele/bookstore-orderflow/internal/config"
	"github.com/joao-fontenele/bookstore-orderflow/internal/gateway"
	"github.com/joao-fontenele/bookstore-orderflow/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	env, err := config.Required("ORDERS_SERVICE_URL", "INVENTORY_SERVICE_URL", "JWT_SECRET")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rps, err := config.Int("RATE_LIMIT_RPS", 20)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	burst, err := config.Int("RATE_LIMIT_BURST", 40)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("gateway")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	httpClient := telemetry.HTTPClient(10 * time.Second)
	ordersProxy := gateway.NewServiceProxy(env["ORDERS_SERVICE_URL"], httpClient)
	inventoryProxy := gateway.NewServiceProxy(env["INVENTORY_SERVICE_URL"], httpClient)
	handler := gateway.NewHandler(ordersProxy, inventoryProxy, logger)
	auth := gateway.NewAuthenticator(env["JWT_SECRET"], logger)

	limiter := gateway.NewRateLimiter(rate.Limit(rps), burst, 10*time.Minute)
	go limiter.Run(ctx)

	route := telemetry.WithHTTPRoute

	mux := http.NewServeMux()

	// Gateway callbacks and browser returns carry no bearer token; they are
	// authenticated by their signature in the orders service.
	mux.HandleFunc("GET /payments/ipn", route(handler.HandlePayments))
	mux.HandleFunc("GET /payments/return", route(handler.HandlePayments))
	mux.HandleFunc("GET /inventory/stock", route(handler.HandleStock))
	mux.HandleFunc("GET /inventory/books/{bookId}", route(handler.HandleBook))

	mux.HandleFunc("POST /orders", route(auth.Require(handler.HandleOrders)))
	mux.HandleFunc("GET /orders", route(auth.Require(handler.HandleOrders)))
	mux.HandleFunc("GET /orders/{id}", route(auth.Require(handler.HandleOrders)))
	mux.HandleFunc("POST /orders/{id}/cancel", route(auth.Require(handler.HandleOrders)))
	mux.HandleFunc("GET /orders/{id}/payment", route(auth.Require(handler.HandleOrders)))
	mux.HandleFunc("POST /payments", route(auth.Require(handler.HandlePayments)))

	mux.HandleFunc("PATCH /orders/{id}/status", route(auth.RequireRole(gateway.RoleAdmin, handler.HandleOrders)))
	mux.HandleFunc("PUT /inventory/books/{bookId}", route(auth.RequireRole(gateway.RoleAdmin, handler.HandleBook)))

	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8080")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(limiter.Middleware(mux), "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
