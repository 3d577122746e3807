package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, code string) (*Coupon, error) {
	var c Coupon
	var from, to sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT code, type, value, max_discount, min_order_value, valid_from, valid_to, usage_limit, used_count, active
		 FROM coupons WHERE code = $1`,
		code,
	).Scan(&c.Code, &c.Type, &c.Value, &c.MaxDiscount, &c.MinOrderValue, &from, &to, &c.UsageLimit, &c.UsedCount, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	if from.Valid {
		c.ValidFrom = &from.Time
	}
	if to.Valid {
		c.ValidTo = &to.Time
	}
	return &c, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1
		 WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`,
		code,
	)
	if err != nil {
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, code); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrUsageLimitExceeded, code)
	}
	return nil
}

func (s *PostgresStore) DecrementUsage(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count - 1 WHERE code = $1 AND used_count > 0`,
		code,
	)
	if err != nil {
		return fmt.Errorf("failed to release coupon use: %w", err)
	}
	return nil
}
