package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically releases reservations whose holder never committed or
// released them, such as abandoned checkouts.
type Sweeper struct {
	ledger   Ledger
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(ledger Ledger, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		logger:   logger.Named("reservation-sweeper"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting", zap.Duration("interval", s.interval))

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

// Sweep runs a single pass. Errors are logged; the next tick retries.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	n, err := s.ledger.ReleaseExpired(ctx, now)
	if err != nil {
		s.logger.Error("failed to release expired reservations", zap.Int("released", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("released expired reservations", zap.Int("released", n))
	}
	return n
}
