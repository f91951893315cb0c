package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/booksmart-dev/booksmart/internal/catalog"
	"github.com/booksmart-dev/booksmart/internal/handlers"
	"github.com/booksmart-dev/booksmart/internal/outbox"
	"github.com/booksmart-dev/booksmart/internal/query"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
	"github.com/booksmart-dev/booksmart/internal/storage"
	"github.com/booksmart-dev/booksmart/internal/sweep"
	"github.com/booksmart-dev/booksmart/libs/config"
	"github.com/booksmart-dev/booksmart/libs/db"
	"github.com/booksmart-dev/booksmart/libs/httpx"
	"github.com/booksmart-dev/booksmart/libs/kafkax"
	"github.com/booksmart-dev/booksmart/libs/otelx"
	"github.com/booksmart-dev/booksmart/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()

	var repo scheduling.Repository
	var pool *db.Pool
	var checks []runtime.ReadyCheck
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		repo = storage.NewAppointmentRepository(pool, outboxRepo)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store, events will not be published")
		repo = storage.NewMemoryRepository()
	}

	provider := buildCatalogProvider(logger)

	scheduler := scheduling.NewService(repo, provider, logger)
	queries := query.NewService(repo, provider, logger)

	if pool != nil && brokers != "" {
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	sweeper := sweep.NewSweeper(scheduler, logger, sweep.Config{
		Interval: config.Duration("SWEEP_INTERVAL", time.Minute),
		Grace:    config.Duration("SWEEP_GRACE", 15*time.Minute),
	})
	go sweeper.Run(ctx)

	rateLimit, rdb := buildRateLimiter(logger)
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewAppointmentHandler(scheduler, queries, logger, jwtSecret).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitCSV(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "If-Match"},
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// buildCatalogProvider prefers the catalog service's gRPC API and falls back
// to the static dev seed when it is not configured or the client is not
// compiled in.
func buildCatalogProvider(logger *slog.Logger) catalog.Provider {
	if addr := config.String("CATALOG_GRPC_ADDR", ""); addr != "" {
		provider, err := catalog.NewGRPCProvider(addr)
		if err != nil {
			logger.Error("catalog gRPC client init failed; using static seed", "err", err)
		} else if provider != nil {
			return provider
		}
	}
	logger.Warn("catalog gRPC not available; using static seed catalog")
	return devSeedCatalog()
}

// devSeedCatalog backs local runs without a reachable catalog service.
func devSeedCatalog() catalog.Provider {
	return catalog.NewStaticProvider(
		[]catalog.Business{
			{ID: "biz-acme", OwnerID: "owner-acme", Name: "Acme Salon", WorkingHours: "Mon-Fri 9:00-17:00"},
			{ID: "biz-fade", OwnerID: "owner-fade", Name: "Fade Factory", WorkingHours: "Tue-Sat 10:00-18:00"},
		},
		[]catalog.Employee{
			{ID: "emp-dana", BusinessID: "biz-acme", Name: "Dana", Position: "Stylist"},
			{ID: "emp-sam", BusinessID: "biz-acme", Name: "Sam", Position: "Stylist"},
			{ID: "emp-lee", BusinessID: "biz-fade", Name: "Lee", Position: "Barber"},
		},
		[]catalog.Service{
			{ID: "svc-cut", BusinessID: "biz-acme", Name: "Haircut", Price: 30},
			{ID: "svc-color", BusinessID: "biz-acme", EmployeeID: "emp-dana", Name: "Coloring", Price: 80},
			{ID: "svc-fade", BusinessID: "biz-fade", Name: "Skin Fade", Price: 25},
		},
	)
}

// buildRateLimiter returns the Redis-backed limiter when REDIS_ADDR is set,
// otherwise the single-instance in-memory one. The Redis client is returned so
// main can close it and wire a readiness check.
func buildRateLimiter(logger *slog.Logger) (httpx.Middleware, *redis.Client) {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "scheduling").Middleware(logger, true), rdb
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware(), nil
}
