package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores preferences in the store_preferences table, one row per
// (namespace, key). Each Apply runs in a single transaction.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgres creates a Postgres-backed store for namespace.
func NewPostgres(pool *pgxpool.Pool, namespace string) *Postgres {
	return &Postgres{pool: pool, namespace: namespace}
}

// EnsureSchema creates the preferences table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS store_preferences (
			namespace VARCHAR(128) NOT NULL,
			key VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, key)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create store_preferences: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `
		SELECT value FROM store_preferences
		WHERE namespace = $1 AND key = $2
	`
	var value string
	err := p.pool.QueryRow(ctx, query, p.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get preference: %w", err)
	}
	return value, true, nil
}

// Contains reports whether key is present.
func (p *Postgres) Contains(ctx context.Context, key string) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM store_preferences WHERE namespace = $1 AND key = $2)
	`
	var exists bool
	if err := p.pool.QueryRow(ctx, query, p.namespace, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check preference: %w", err)
	}
	return exists, nil
}

// Apply runs the batch in one transaction.
func (p *Postgres) Apply(ctx context.Context, b Batch) error {
	const (
		clearQuery = `DELETE FROM store_preferences WHERE namespace = $1`
		putQuery   = `
			INSERT INTO store_preferences (namespace, key, value, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (namespace, key)
			DO UPDATE SET value = $3, updated_at = NOW()
		`
		removeQuery = `DELETE FROM store_preferences WHERE namespace = $1 AND key = $2`
	)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if b.Clear {
			if _, err := tx.Exec(ctx, clearQuery, p.namespace); err != nil {
				return err
			}
		}
		for _, op := range b.Ops {
			var err error
			switch op.Kind {
			case OpPut:
				_, err = tx.Exec(ctx, putQuery, p.namespace, op.Key, op.Value)
			case OpRemove:
				_, err = tx.Exec(ctx, removeQuery, p.namespace, op.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}
	return nil
}
