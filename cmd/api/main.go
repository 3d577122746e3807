package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ec-checkout/internal/api"
	"github.com/example/ec-checkout/internal/auth"
	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/command"
	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/keylock"
	"github.com/example/ec-checkout/internal/logging"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/example/ec-checkout/internal/pricing"
	"github.com/example/ec-checkout/internal/query"
	"github.com/example/ec-checkout/internal/settings"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.replay {
		if _, err := b.projector.Replay(ctx, b.eventStore); err != nil {
			return fmt.Errorf("failed to rebuild read models: %w", err)
		}
	}

	locks := keylock.New()
	couponSvc := coupon.NewService(b.coupons)
	engine := pricing.NewEngine(b.catalog, couponSvc, settings.Static{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		ShippingCost:          cfg.ShippingCost,
	})
	settler := inventory.NewSettler(b.ledger, cfg.CompensationMaxRetries, logger)

	cartSvc := cart.NewService(b.eventStore, b.catalog, locks, logger)
	orderSvc := order.NewService(b.eventStore, logger)
	factory := checkout.NewFactory(cartSvc, engine, b.ledger, settler, orderSvc, couponSvc, locks, cfg.ReservationTTL, logger)
	reconciler := payment.NewReconciler(orderSvc, b.ledger, settler, payment.NewSigner(cfg.PaymentGatewaySecret), cfg.PaymentWindow, logger)

	cmdHandler := command.NewHandler(cartSvc, engine, factory, orderSvc, reconciler, b.ledger, logger)
	queryHandler := query.NewHandler(b.readStore, logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret, 24*time.Hour)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandlers(cmdHandler, queryHandler), jwtService, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.Backend))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return inventory.NewSweeper(b.ledger, cfg.ReservationSweepInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		return payment.NewSweeper(reconciler, queryHandler, cfg.PaymentSweepInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
