package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger keeps stock in process. One mutex covers counters and
// reservations, which makes every operation trivially linearizable.
type MemoryLedger struct {
	mu           sync.Mutex
	levels       map[string]*Level
	reservations map[string]*Reservation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		levels:       make(map[string]*Level),
		reservations: make(map[string]*Reservation),
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, variantID string, qty int, holder string, ttl time.Duration) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, ok := l.levels[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	if lvl.AvailableStock() < qty {
		return nil, fmt.Errorf("%w: variant %s has %d available, %d requested", ErrInsufficientStock, variantID, lvl.AvailableStock(), qty)
	}
	lvl.ReservedStock += qty

	now := time.Now().UTC()
	r := &Reservation{
		ID:        uuid.New().String(),
		VariantID: variantID,
		Holder:    holder,
		Quantity:  qty,
		State:     StateHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	l.reservations[r.ID] = r

	out := *r
	return &out, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, reservationID string) error {
	return l.transition(reservationID, StateCommitted)
}

func (l *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	return l.transition(reservationID, StateReleased)
}

func (l *MemoryLedger) transition(reservationID string, target State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	if r.State != StateHeld {
		return settle(r.State, target)
	}
	l.apply(r, target)
	return nil
}

// apply moves a held reservation to target. Callers hold l.mu.
func (l *MemoryLedger) apply(r *Reservation, target State) {
	lvl := l.levels[r.VariantID]
	lvl.ReservedStock -= r.Quantity
	if target == StateCommitted {
		lvl.TotalStock -= r.Quantity
	}
	r.State = target
}

func (l *MemoryLedger) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	out := *r
	return &out, nil
}

func (l *MemoryLedger) Level(ctx context.Context, variantID string) (Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, ok := l.levels[variantID]
	if !ok {
		return Level{}, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	return *lvl, nil
}

func (l *MemoryLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []*Reservation
	for _, r := range l.reservations {
		if r.Expired(now) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })

	for _, r := range expired {
		l.apply(r, StateReleased)
	}
	return len(expired), nil
}

// SetStock sets the total stock of a variant, creating its record if needed.
// It refuses to go below what is currently reserved.
func (l *MemoryLedger) SetStock(ctx context.Context, variantID string, stock int) error {
	if stock < 0 {
		return ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, ok := l.levels[variantID]
	if !ok {
		l.levels[variantID] = &Level{VariantID: variantID, TotalStock: stock}
		return nil
	}
	if stock < lvl.ReservedStock {
		return fmt.Errorf("%w: %d units of %s are reserved", ErrInsufficientStock, lvl.ReservedStock, variantID)
	}
	lvl.TotalStock = stock
	return nil
}

func (l *MemoryLedger) Restock(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, ok := l.levels[variantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	lvl.TotalStock += qty
	return nil
}
