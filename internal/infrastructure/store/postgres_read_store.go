package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresReadStore keeps read models as JSONB documents in a single
// read_models table, one row per (collection, id).
type PostgresReadStore struct {
	db        *sql.DB
	factories map[string]func() any
}

// NewPostgresReadStore creates a read store. factories maps each collection
// to a constructor of the pointer type its documents decode into.
func NewPostgresReadStore(db *sql.DB, factories map[string]func() any) *PostgresReadStore {
	return &PostgresReadStore{db: db, factories: factories}
}

func (rs *PostgresReadStore) decode(collection string, raw []byte) (any, error) {
	factory, ok := rs.factories[collection]
	if !ok {
		return nil, fmt.Errorf("unknown read model collection %q", collection)
	}
	v := factory()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
	}
	return v, nil
}

// Set stores a read model
func (rs *PostgresReadStore) Set(ctx context.Context, collection, id string, data any) error {
	return rs.upsert(ctx, rs.db, collection, id, data)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (rs *PostgresReadStore) upsert(ctx context.Context, db execer, collection, id string, data any) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", collection, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO read_models (collection, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, collection, id, doc)
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get retrieves a read model by id
func (rs *PostgresReadStore) Get(ctx context.Context, collection, id string) (any, bool, error) {
	var raw []byte
	err := rs.db.QueryRowContext(ctx,
		"SELECT data FROM read_models WHERE collection = $1 AND id = $2",
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}
	v, err := rs.decode(collection, raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetAll retrieves all items in a collection
func (rs *PostgresReadStore) GetAll(ctx context.Context, collection string) ([]any, error) {
	rows, err := rs.db.QueryContext(ctx,
		"SELECT data FROM read_models WHERE collection = $1 ORDER BY id",
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := rs.decode(collection, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// Delete removes a read model
func (rs *PostgresReadStore) Delete(ctx context.Context, collection, id string) error {
	_, err := rs.db.ExecContext(ctx, "DELETE FROM read_models WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update modifies a read model under a row lock
func (rs *PostgresReadStore) Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	found := false
	err := WithTx(ctx, rs.db, nil, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM read_models WHERE collection = $1 AND id = $2 FOR UPDATE",
			collection, id,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := rs.decode(collection, raw)
		if err != nil {
			return err
		}
		found = true
		return rs.upsert(ctx, tx, collection, id, updateFn(current))
	})
	if err != nil {
		return false, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return found, nil
}
