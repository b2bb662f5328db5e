// Package app wires the order placement service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/storage/idempotency"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	st, err := openStorage(ctx, lg, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.close()

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	if st.ping != nil {
		healthSvc.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, st.ping)
	}

	var handlerOpts []handler.Option
	if cfg.Redis.Enabled() {
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				lg.Warn("Close redis", zap.Error(err))
			}
		}()

		keys := idempotency.NewRedisStore(client, cfg.Redis.IdempotencyTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(keys))
		handlerOpts = append(handlerOpts, handler.WithIdempotency(keys))
	}

	serviceOpts := []order.Option{
		order.WithConflictRetries(cfg.Orders.ConflictRetries, cfg.Orders.RetryInterval),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	if cfg.Orders.Atomic {
		serviceOpts = append(serviceOpts, order.WithTransactor(st.tx))
	}
	orderService := order.NewService(st.customers, st.products, st.orders, serviceOpts...)

	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(instrument(m)))
	router.HandleFunc("/livez", healthSvc.LiveEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthSvc.ReadyEndpoint).Methods(http.MethodGet)
	handler.NewHandler(orderService, handlerOpts...).Register(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           wrapHandler(ctx, lg, cfg.RateLimit, router),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// wrapHandler applies the server middleware chain. The logger is injected
// first so that recovered panics are logged with it.
func wrapHandler(ctx context.Context, lg *zap.Logger, rl RateLimitConfig, h http.Handler) http.Handler {
	return httpmiddleware.Wrap(h,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			RPS:     rl.RPS,
			Burst:   rl.Burst,
			IdleTTL: rl.IdleTTL,
		}),
	)
}

// instrument traces and measures matched routes with otelhttp. Spans are
// named after the route template.
func instrument(m *app.Telemetry) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "kart-orders",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				route := mux.CurrentRoute(r)
				if route == nil {
					return r.Method + " " + r.URL.Path
				}
				tpl, err := route.GetPathTemplate()
				if err != nil {
					tpl = r.URL.Path
				}
				return r.Method + " " + tpl
			}),
		)
	}
}

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	}
	return redis.NewClient(opts), nil
}
