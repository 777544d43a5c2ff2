// Package postgres persists orders and their audit trail. All state
// transitions are single guarded UPDATE statements, so concurrent writers
// to one order serialize at the row without explicit transactions.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Progress states (routing, submitted) never reach the table; the store
// collapses them to processing before writing.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		token_in VARCHAR(32) NOT NULL,
		token_out VARCHAR(32) NOT NULL,
		amount NUMERIC(30,12) NOT NULL CHECK (amount > 0),
		slippage_tolerance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		status VARCHAR(16) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','processing','completed','failed','cancelled')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		executed_venue VARCHAR(64),
		executed_price NUMERIC(30,12),
		transaction_hash VARCHAR(128) UNIQUE,
		error_message TEXT,
		confirmed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(token_in, token_out)`,

	`CREATE OR REPLACE FUNCTION set_updated_at() RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS orders_set_updated_at ON orders`,

	`CREATE TRIGGER orders_set_updated_at
		BEFORE UPDATE ON orders
		FOR EACH ROW EXECUTE FUNCTION set_updated_at()`,

	`CREATE TABLE IF NOT EXISTS order_history (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		event_type VARCHAR(64) NOT NULL,
		event_data JSONB NOT NULL DEFAULT '{}'::jsonb,
		event_version BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		metadata JSONB,
		UNIQUE (order_id, event_version)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_order_history_order
		ON order_history(order_id, event_version)`,
	`CREATE INDEX IF NOT EXISTS idx_order_history_event_type
		ON order_history(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_order_history_event_data
		ON order_history USING GIN (event_data)`,
}

// Migrate installs the schema. Every statement is idempotent, so the
// function is safe to run on every startup.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
