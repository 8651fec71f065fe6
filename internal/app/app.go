package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/domain/shipping"
	"github.com/valmera/ordercore/internal/events"
	"github.com/valmera/ordercore/internal/handler"
	"github.com/valmera/ordercore/internal/pricing"
	"github.com/valmera/ordercore/internal/repository"
	"github.com/valmera/ordercore/internal/service"
	"github.com/valmera/ordercore/pkg/health"
	"github.com/valmera/ordercore/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	healthSvc := health.New()
	healthSvc.Readiness("postgres", health.PingCheck(pool))
	healthSvc.Liveness("goroutines", health.GoroutineCount(10000), health.WithTimeout(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	// Operation registries with the builtin rule vocabulary.
	registries := handler.Registries{
		Conditions:  operation.NewRegistry[*promotion.Condition](),
		Actions:     operation.NewRegistry[promotion.Action](),
		Checkers:    operation.NewRegistry[*shipping.Checker](),
		Calculators: operation.NewRegistry[*shipping.Calculator](),
	}
	promotion.RegisterBuiltinConditions(registries.Conditions)
	promotion.RegisterBuiltinActions(registries.Actions)
	shipping.RegisterBuiltinCheckers(registries.Checkers)
	shipping.RegisterBuiltinCalculators(registries.Calculators)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	promotionRepo := repository.NewPromotionRepository(pool)
	shippingRepo := repository.NewShippingMethodRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	stockRepo := repository.NewStockRepository(pool)

	// Evaluators and the price calculator.
	promoEval := promotion.NewEvaluator(registries.Conditions, registries.Actions)
	shipEval := shipping.NewEvaluator(registries.Checkers, registries.Calculators)
	calc := pricing.NewCalculator(promoEval, shipEval, shippingRepo, lg.Named("pricing"))

	// State machine with promotion freezing on payment confirmation.
	applicable := func(ctx context.Context, o *order.Order) ([]string, error) {
		promos, err := promotionRepo.Active(ctx)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, p := range promos {
			ok, err := promoEval.Test(ctx, p, o)
			if err != nil {
				return nil, err
			}
			if ok {
				ids = append(ids, p.ID)
			}
		}
		return ids, nil
	}
	sm := order.NewStateMachine(historyRepo, stockRepo, applicable)

	// Coupon fast path: warm the bloom filter with every known code.
	codeIndex := promotion.NewCodeIndex(cfg.CouponIndex.Capacity, cfg.CouponIndex.FPR)
	if promos, err := promotionRepo.Active(ctx); err != nil {
		lg.Warn("coupon index warmup failed", zap.Error(err))
	} else {
		n := 0
		for _, p := range promos {
			if p.CouponCode != "" {
				codeIndex.Add(p.CouponCode)
				n++
			}
		}
		lg.Info("coupon index warmed", zap.Int("codes", n))
	}

	// Event bus with audit logging subscriber.
	bus := events.NewBus(lg.Named("events"), cfg.Events.Buffer, cfg.Events.Workers)
	bus.Subscribe(events.OrderPlaced{}.Name(), func(_ context.Context, ev events.Event) error {
		placed := ev.(events.OrderPlaced)
		lg.Info("order placed",
			zap.String("order_id", placed.OrderID),
			zap.Int64("total", placed.Total))
		return nil
	})
	go func() {
		if err := bus.Run(ctx); err != nil {
			lg.Error("event bus stopped", zap.Error(err))
		}
	}()

	svc := service.NewService(orderRepo, promotionRepo, sm, calc, codeIndex, bus, lg.Named("service"))
	h := handler.NewHandler(svc, registries, lg.Named("handler"))

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveHandler)
	mux.HandleFunc("/readyz", healthSvc.ReadyHandler)
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "ordercore",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Headers:     []string{"Content-Type", "Authorization"},
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: drain readiness first, then stop the server.
	shutdownDone := make(chan struct{})
	go func() {
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
