package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/logging"
	"go.uber.org/zap"
)

// Settler commits or releases every reservation of an order, retrying
// transient ledger failures with exponential backoff. A reservation that
// still cannot be settled is reported as a consistency alert.
type Settler struct {
	ledger     Ledger
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

func NewSettler(ledger Ledger, maxRetries int, logger *zap.Logger) *Settler {
	return &Settler{
		ledger: ledger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, uint64(maxRetries))
		},
		logger: logger.Named("settler"),
	}
}

// WithBackOff replaces the retry policy. Tests use it to retry without
// sleeping.
func (s *Settler) WithBackOff(newBackOff func() backoff.BackOff) *Settler {
	s.newBackOff = newBackOff
	return s
}

// Commit commits one reservation, retrying transient failures. Terminal
// errors such as ErrReservationReleased are returned unchanged and not
// alerted; the caller decides what they mean.
func (s *Settler) Commit(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	return s.retry(ctx, func() error { return s.ledger.Commit(ctx, id) })
}

// Release is Commit's counterpart.
func (s *Settler) Release(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	return s.retry(ctx, func() error { return s.ledger.Release(ctx, id) })
}

// ReleaseAll releases ids on behalf of holder. It runs detached from ctx's
// cancellation: a client hanging up must not strand held stock.
func (s *Settler) ReleaseAll(ctx context.Context, holder string, ids []string) error {
	return s.settleAll(context.WithoutCancel(ctx), holder, ids, "release", s.ledger.Release)
}

// CommitAll commits ids on behalf of holder.
func (s *Settler) CommitAll(ctx context.Context, holder string, ids []string) error {
	return s.settleAll(context.WithoutCancel(ctx), holder, ids, "commit", s.ledger.Commit)
}

func (s *Settler) settleAll(ctx context.Context, holder string, ids []string, action string, op func(context.Context, string) error) error {
	var failed []error
	for _, id := range ids {
		if err := s.retry(ctx, func() error { return op(ctx, id) }); err != nil {
			s.logger.Error("reservation could not be settled",
				logging.ConsistencyAlert(),
				zap.String("action", action),
				zap.String("holder", holder),
				zap.String("reservation_id", id),
				zap.Error(err))
			failed = append(failed, fmt.Errorf("%s %s: %w", action, id, err))
		}
	}
	if len(failed) > 0 {
		return apperr.Consistency(fmt.Sprintf("failed to %s reservations of %s", action, holder), errors.Join(failed...))
	}
	return nil
}

// retry stops at the first terminal error: a reservation that is already
// settled the other way or that does not exist will not change by waiting.
func (s *Settler) retry(ctx context.Context, fn func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if apperr.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("ledger call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
}
