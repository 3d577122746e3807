// Package inventory is the stock ledger. Every change to a variant's stock
// goes through a reservation: Reserve holds units, Commit turns the hold into
// a permanent decrement and Release gives the units back.
package inventory

import (
	"context"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
)

var (
	ErrInsufficientStock    = apperr.Conflict("OUT_OF_STOCK", "insufficient stock")
	ErrInvalidQuantity      = apperr.Validation("INVALID_QUANTITY", "quantity must be positive")
	ErrVariantNotFound      = apperr.NotFound("VARIANT_NOT_FOUND", "no stock record for variant")
	ErrReservationNotFound  = apperr.NotFound("RESERVATION_NOT_FOUND", "reservation not found")
	ErrReservationCommitted = apperr.Conflict("RESERVATION_COMMITTED", "reservation is already committed")
	ErrReservationReleased  = apperr.Conflict("RESERVATION_RELEASED", "reservation is already released")
)

type State string

const (
	StateHeld      State = "held"
	StateCommitted State = "committed"
	StateReleased  State = "released"
)

// Reservation is a time bounded hold on a variant's available stock.
type Reservation struct {
	ID        string    `json:"id"`
	VariantID string    `json:"variant_id"`
	Holder    string    `json:"holder"`
	Quantity  int       `json:"quantity"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether a held reservation is past its deadline.
func (r *Reservation) Expired(now time.Time) bool {
	return r.State == StateHeld && now.After(r.ExpiresAt)
}

// Level is the stock position of one variant.
type Level struct {
	VariantID     string `json:"variant_id"`
	TotalStock    int    `json:"total_stock"`
	ReservedStock int    `json:"reserved_stock"`
}

func (l Level) AvailableStock() int {
	return l.TotalStock - l.ReservedStock
}

// Ledger is implemented by every stock backend. Reserve must be an atomic
// conditional update: two reservations whose sum exceeds the available stock
// never both succeed.
type Ledger interface {
	Reserve(ctx context.Context, variantID string, qty int, holder string, ttl time.Duration) (*Reservation, error)
	// Commit and Release are idempotent for a repeated outcome. Committing a
	// released reservation, or the reverse, fails.
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	Level(ctx context.Context, variantID string) (Level, error)
	// ReleaseExpired releases every held reservation whose deadline is before
	// now and returns how many it released.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
	SetStock(ctx context.Context, variantID string, stock int) error
	Restock(ctx context.Context, variantID string, qty int) error
}

// Available returns the units of variantID that can still be reserved.
func Available(ctx context.Context, l Ledger, variantID string) (int, error) {
	lvl, err := l.Level(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return lvl.AvailableStock(), nil
}

// settle resolves a Commit or Release against a reservation that is no longer
// held: a repeat of the same outcome succeeds, the opposite one fails.
func settle(current, target State) error {
	switch {
	case current == target:
		return nil
	case current == StateCommitted:
		return ErrReservationCommitted
	case current == StateReleased:
		return ErrReservationReleased
	}
	return nil
}
