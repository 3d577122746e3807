package payment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper cancels abandoned checkouts once their payment window has passed.
type Sweeper struct {
	reconciler *Reconciler
	pending    PendingLister
	interval   time.Duration
	logger     *zap.Logger
}

func NewSweeper(r *Reconciler, pending PendingLister, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		reconciler: r,
		pending:    pending,
		interval:   interval,
		logger:     logger.Named("payment-sweeper"),
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting", zap.Duration("interval", s.interval), zap.Duration("window", s.reconciler.paymentWindow))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return nil
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	n, err := s.reconciler.ExpirePending(ctx, s.pending, now)
	if err != nil {
		s.logger.Error("failed to expire pending orders", zap.Int("expired", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("expired pending orders", zap.Int("expired", n))
	}
	return n
}
