// Package payment reconciles payment gateway outcomes with pending orders
// and settles the stock those orders hold.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/keylock"
	"github.com/example/ec-checkout/internal/logging"
	"go.uber.org/zap"
)

var (
	ErrSignatureInvalid = apperr.Signature("SIGNATURE_INVALID", "payment signature verification failed")
	ErrAlreadyProcessed = apperr.Conflict("ALREADY_PROCESSED", "payment outcome already recorded")
	ErrInvalidOutcome   = apperr.Validation("INVALID_PAYMENT_STATUS", "payment status must be success or failed")
	ErrOrderNotFound    = order.ErrOrderNotFound
)

// ReasonWindowExpired is recorded on orders cancelled by the sweeper.
const ReasonWindowExpired = "payment window expired"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

func (o Outcome) valid() bool { return o == OutcomeSuccess || o == OutcomeFailed }

type VerifyInput struct {
	OrderNumber string  `json:"order_number" binding:"required"`
	PaymentID   string  `json:"payment_id" binding:"required"`
	Status      Outcome `json:"status" binding:"required"`
	Signature   string  `json:"signature" binding:"required"`
	Reason      string  `json:"reason,omitempty"`
}

type Orders interface {
	Load(ctx context.Context, orderNumber string) (*order.Order, error)
	MarkPaid(ctx context.Context, orderNumber, paymentID string) (*order.Order, error)
	MarkPaymentFailed(ctx context.Context, orderNumber, paymentID, reason string) (*order.Order, error)
	Refund(ctx context.Context, orderNumber string) (*order.Order, error)
}

// PendingLister finds orders still awaiting payment that were placed
// before cutoff.
type PendingLister interface {
	PendingOrdersBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Reconciler struct {
	orders        Orders
	ledger        inventory.Ledger
	settler       *inventory.Settler
	signer        *Signer
	locks         *keylock.Locker
	reacquireTTL  time.Duration
	paymentWindow time.Duration
	logger        *zap.Logger
}

func NewReconciler(
	orders Orders,
	ledger inventory.Ledger,
	settler *inventory.Settler,
	signer *Signer,
	paymentWindow time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		orders:        orders,
		ledger:        ledger,
		settler:       settler,
		signer:        signer,
		locks:         keylock.New(),
		reacquireTTL:  time.Minute,
		paymentWindow: paymentWindow,
		logger:        logger.Named("payment"),
	}
}

// VerifyPayment applies a signed gateway outcome. Repeating an outcome that
// is already recorded returns the order unchanged; a conflicting outcome
// fails with ErrAlreadyProcessed and is never applied.
func (r *Reconciler) VerifyPayment(ctx context.Context, in VerifyInput) (*order.Order, error) {
	log := r.logger.With(
		zap.String("order_number", in.OrderNumber),
		zap.String("payment_id", in.PaymentID),
		zap.String("status", string(in.Status)))

	if !in.Status.valid() {
		return nil, ErrInvalidOutcome
	}
	if !r.signer.Verify(in.OrderNumber, in.PaymentID, in.Status, in.Signature) {
		log.Warn("rejected payment callback with invalid signature")
		return nil, ErrSignatureInvalid
	}

	unlock, err := r.locks.Lock(ctx, in.OrderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := r.orders.Load(ctx, in.OrderNumber)
	if err != nil {
		return nil, err
	}

	switch o.PaymentStatus {
	case order.PaymentPending:
		if in.Status == OutcomeSuccess {
			return r.confirm(ctx, o, in.PaymentID, log)
		}
		reason := in.Reason
		if reason == "" {
			reason = "payment declined"
		}
		return r.cancel(ctx, o, in.PaymentID, reason, log)
	case order.PaymentPaid:
		if in.Status == OutcomeSuccess && in.PaymentID == o.PaymentID {
			log.Info("duplicate success callback ignored")
			return o, nil
		}
	case order.PaymentFailed:
		if in.Status == OutcomeFailed {
			log.Info("duplicate failure callback ignored")
			return o, nil
		}
	}

	log.Error("conflicting payment outcome needs manual review",
		zap.String("recorded_status", string(o.PaymentStatus)),
		zap.String("recorded_payment_id", o.PaymentID))
	return nil, fmt.Errorf("%w: order %s is %s", ErrAlreadyProcessed, o.OrderNumber, o.PaymentStatus)
}

// HandleFailedPayment cancels a pending order and releases its stock. The
// cancellation stands even when the release has to be escalated.
func (r *Reconciler) HandleFailedPayment(ctx context.Context, orderNumber, reason string) (*order.Order, error) {
	log := r.logger.With(zap.String("order_number", orderNumber))

	unlock, err := r.locks.Lock(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := r.orders.Load(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	switch o.PaymentStatus {
	case order.PaymentPending:
		return r.cancel(ctx, o, "", reason, log)
	case order.PaymentFailed:
		return o, nil
	}
	log.Error("failure reported for settled order",
		zap.String("recorded_status", string(o.PaymentStatus)))
	return nil, fmt.Errorf("%w: order %s is %s", ErrAlreadyProcessed, orderNumber, o.PaymentStatus)
}

// ExpirePending cancels orders that stayed pending longer than the payment
// window and returns how many it cancelled. An order that cannot be
// cancelled does not hold up the rest; all such failures are returned
// joined.
func (r *Reconciler) ExpirePending(ctx context.Context, lister PendingLister, now time.Time) (int, error) {
	numbers, err := lister.PendingOrdersBefore(ctx, now.Add(-r.paymentWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending orders: %w", err)
	}

	expired := 0
	var errs []error
	for _, n := range numbers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := r.HandleFailedPayment(ctx, n, ReasonWindowExpired)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrAlreadyProcessed):
			// paid after the listing was taken
		default:
			r.logger.Error("failed to expire pending order", zap.String("order_number", n), zap.Error(err))
			errs = append(errs, fmt.Errorf("order %s: %w", n, err))
		}
	}
	return expired, errors.Join(errs...)
}

// Refund marks a paid order refunded. Stock of an order that never shipped
// goes back on the shelf; returned goods are restocked by hand after
// inspection.
func (r *Reconciler) Refund(ctx context.Context, orderNumber string) (*order.Order, error) {
	unlock, err := r.locks.Lock(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	before, err := r.orders.Load(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	o, err := r.orders.Refund(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	if before.Status == order.StatusConfirmed {
		for _, item := range o.Items {
			if err := r.ledger.Restock(ctx, item.VariantID, item.Quantity); err != nil {
				r.logger.Error("failed to restock refunded order",
					logging.ConsistencyAlert(),
					zap.String("order_number", orderNumber),
					zap.String("variant_id", item.VariantID),
					zap.Int("quantity", item.Quantity),
					zap.Error(err))
			}
		}
	}
	r.logger.Info("order refunded", zap.String("order_number", orderNumber), zap.Int64("amount", o.FinalAmount))
	return o, nil
}

// confirm commits the order's stock, then records the payment. Committing
// first keeps a crash in between retry safe: commits are idempotent and the
// gateway repeats the callback.
func (r *Reconciler) confirm(ctx context.Context, o *order.Order, paymentID string, log *zap.Logger) (*order.Order, error) {
	for _, item := range o.Items {
		if err := r.commitItem(ctx, o.OrderNumber, item); err != nil {
			// The money is taken; the order is confirmed regardless and the
			// shortfall goes to an operator.
			log.Error("paid order could not commit stock",
				logging.ConsistencyAlert(),
				zap.String("variant_id", item.VariantID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}

	paid, err := r.orders.MarkPaid(ctx, o.OrderNumber, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	log.Info("payment confirmed", zap.Int64("amount", paid.FinalAmount))
	return paid, nil
}

// commitItem commits a line's reservation. A reservation the sweeper already
// released is re-acquired from available stock and committed at once.
func (r *Reconciler) commitItem(ctx context.Context, orderNumber string, item order.OrderItem) error {
	err := r.settler.Commit(ctx, item.ReservationID)
	if !errors.Is(err, inventory.ErrReservationReleased) {
		return err
	}
	res, err := r.ledger.Reserve(ctx, item.VariantID, item.Quantity, orderNumber, r.reacquireTTL)
	if err != nil {
		return fmt.Errorf("reservation %s expired and could not be re-acquired: %w", item.ReservationID, err)
	}
	return r.settler.Commit(ctx, res.ID)
}

// cancel records the failure first and then releases stock; a stuck release
// is escalated by the settler and does not undo the cancellation.
func (r *Reconciler) cancel(ctx context.Context, o *order.Order, paymentID, reason string, log *zap.Logger) (*order.Order, error) {
	failed, err := r.orders.MarkPaymentFailed(ctx, o.OrderNumber, paymentID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}
	if err := r.settler.ReleaseAll(ctx, o.OrderNumber, failed.ReservationIDs()); err != nil {
		log.Error("order cancelled but stock release needs manual reconciliation", zap.Error(err))
	}
	log.Info("order cancelled", zap.String("reason", reason))
	return failed, nil
}
