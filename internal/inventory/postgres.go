package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
)

// PostgresLedger keeps counters on the variants table and holds in
// stock_reservations. The reserve UPDATE carries its own availability check
// so concurrent transactions serialize on the variant row.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Reserve(ctx context.Context, variantID string, qty int, holder string, ttl time.Duration) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

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

	err := store.WithTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE variants SET reserved = reserved + $1
			 WHERE id = $2 AND stock - reserved >= $1`,
			qty, variantID,
		)
		if err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return l.missOrShort(ctx, tx, variantID, qty)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO stock_reservations (id, variant_id, holder, quantity, state, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.VariantID, r.Holder, r.Quantity, r.State, r.CreatedAt, r.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// missOrShort explains a reserve UPDATE that matched no row.
func (l *PostgresLedger) missOrShort(ctx context.Context, tx *sql.Tx, variantID string, qty int) error {
	var available int
	err := tx.QueryRowContext(ctx, `SELECT stock - reserved FROM variants WHERE id = $1`, variantID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	if err != nil {
		return fmt.Errorf("failed to read stock: %w", err)
	}
	return fmt.Errorf("%w: variant %s has %d available, %d requested", ErrInsufficientStock, variantID, available, qty)
}

func (l *PostgresLedger) Commit(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, StateCommitted)
}

func (l *PostgresLedger) Release(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, StateReleased)
}

func (l *PostgresLedger) transition(ctx context.Context, reservationID string, target State) error {
	return store.WithTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		var variantID string
		var qty int
		var state State
		err := tx.QueryRowContext(ctx,
			`SELECT variant_id, quantity, state FROM stock_reservations WHERE id = $1 FOR UPDATE`,
			reservationID,
		).Scan(&variantID, &qty, &state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}
		if state != StateHeld {
			return settle(state, target)
		}

		counters := `UPDATE variants SET reserved = reserved - $1 WHERE id = $2`
		if target == StateCommitted {
			counters = `UPDATE variants SET stock = stock - $1, reserved = reserved - $1 WHERE id = $2`
		}
		if _, err := tx.ExecContext(ctx, counters, qty, variantID); err != nil {
			return fmt.Errorf("failed to update stock: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE stock_reservations SET state = $1 WHERE id = $2`,
			target, reservationID,
		); err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}
		return nil
	})
}

func (l *PostgresLedger) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	var r Reservation
	err := l.db.QueryRowContext(ctx,
		`SELECT id, variant_id, holder, quantity, state, created_at, expires_at
		 FROM stock_reservations WHERE id = $1`,
		reservationID,
	).Scan(&r.ID, &r.VariantID, &r.Holder, &r.Quantity, &r.State, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &r, nil
}

func (l *PostgresLedger) Level(ctx context.Context, variantID string) (Level, error) {
	lvl := Level{VariantID: variantID}
	err := l.db.QueryRowContext(ctx,
		`SELECT stock, reserved FROM variants WHERE id = $1`, variantID,
	).Scan(&lvl.TotalStock, &lvl.ReservedStock)
	if errors.Is(err, sql.ErrNoRows) {
		return Level{}, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	if err != nil {
		return Level{}, fmt.Errorf("failed to read stock: %w", err)
	}
	return lvl, nil
}

func (l *PostgresLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id FROM stock_reservations WHERE state = $1 AND expires_at < $2 ORDER BY expires_at`,
		StateHeld, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		err := l.Release(ctx, id)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrReservationCommitted):
			// committed between the listing and the release
		default:
			return released, err
		}
	}
	return released, nil
}

// SetStock overwrites total stock. The variant row is owned by the catalog,
// so a missing row is an error rather than an insert.
func (l *PostgresLedger) SetStock(ctx context.Context, variantID string, stock int) error {
	if stock < 0 {
		return ErrInvalidQuantity
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE variants SET stock = $1 WHERE id = $2 AND reserved <= $1`, stock, variantID)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := l.Level(ctx, variantID); err != nil {
			return err
		}
		return fmt.Errorf("%w: reserved units of %s exceed %d", ErrInsufficientStock, variantID, stock)
	}
	return nil
}

func (l *PostgresLedger) Restock(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE variants SET stock = stock + $1 WHERE id = $2`, qty, variantID)
	if err != nil {
		return fmt.Errorf("failed to restock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	return nil
}
