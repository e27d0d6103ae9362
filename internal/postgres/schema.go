package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied by cmd/migrate. Statements are idempotent so the
// command can run on every deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS drones (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		stock_quantity INT NOT NULL CHECK (stock_quantity >= 0),
		in_stock BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		drone_id UUID NOT NULL REFERENCES drones(id),
		user_id TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity BETWEEN 1 AND 10),
		total_amount_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_intent_id TEXT UNIQUE,
		stock_restored BOOLEAN NOT NULL DEFAULT FALSE,
		order_date TIMESTAMPTZ NOT NULL DEFAULT now(),
		estimated_delivery TIMESTAMPTZ,
		actual_delivery TIMESTAMPTZ,
		ship_line1 TEXT NOT NULL DEFAULT '',
		ship_city TEXT NOT NULL DEFAULT '',
		ship_state TEXT NOT NULL DEFAULT '',
		ship_postal_code TEXT NOT NULL DEFAULT '',
		ship_country TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id BIGSERIAL PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders(id),
		status TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history(order_id)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
