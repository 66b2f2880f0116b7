package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/payment-worker/internal/balance"
	"github.com/jcmexdev/payment-worker/internal/httpx"
	ledgersqlite "github.com/jcmexdev/payment-worker/internal/ledger/sqlite"
	"github.com/jcmexdev/payment-worker/internal/orderstatus"
	"github.com/jcmexdev/payment-worker/internal/pkg/metrics"
	"github.com/jcmexdev/payment-worker/internal/pkg/telemetry"
	"github.com/jcmexdev/payment-worker/internal/queue"
	"github.com/jcmexdev/payment-worker/internal/saga"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance := uuid.NewString()
	telemetry.InitLogger(slog.String("instance", instance))

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "payment-worker"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	paymentQueue := getEnv("PAYMENT_QUEUE_NAME", "payment")
	inventoryQueue := getEnv("INVENTORY_QUEUE_NAME", "inventory")
	pollTimeout := getDuration("POLL_TIMEOUT", 30*time.Second)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	queueClient := queue.NewClient(rdb)

	dbPath := getEnv("LEDGER_DB_PATH", "./data/payments.db")
	repo, err := ledgersqlite.Open(dbPath)
	if err != nil {
		slog.Error("failed to open payment ledger", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	httpClient := newHTTPClient()
	statusClient := orderstatus.NewClient(getEnv("ORDER_SERVICE_URL", "http://localhost:8081"), httpClient)
	balanceClient := balance.NewClient(getEnv("BALANCE_SERVICE_URL", "http://localhost:8082"), httpClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	engine := saga.New(repo, balanceClient, statusClient, queueClient, queue.FormatName(inventoryQueue), m)
	consumer := queue.NewConsumer(
		queueClient,
		queue.FormatName(paymentQueue),
		paymentQueue, // result channel uses the bare name
		pollTimeout,
		engine.Handle,
		m,
	)

	opsAddr := getEnv("OPS_ADDR", ":8090")
	opsHandler := httpx.NewHandler(repo, map[string]httpx.Pinger{
		"redis":  queueClient,
		"ledger": repo,
	})
	opsServer := &http.Server{
		Addr:    opsAddr,
		Handler: httpx.NewRouter(opsHandler, registry),
	}
	go func() {
		slog.Info("ops server running", "addr", opsAddr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("starting payment worker",
		"instance", instance,
		"redis_addr", redisAddr,
		"queue", queue.FormatName(paymentQueue),
	)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("payment worker stopped")
}

// newHTTPClient builds the shared outbound HTTP client. Each call gets a
// bounded timeout and a small retry budget so a stalled downstream cannot
// wedge the consumer loop.
func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil // slog handles request logging at the call sites
	return c
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration, using fallback", "key", key, "value", value, "fallback", fallback)
	}
	return fallback
}
