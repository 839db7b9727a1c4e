package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id {{pk}},
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT 'pcs',
		quantity NUMERIC(14,3) NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		reorder_level NUMERIC(14,3) NOT NULL DEFAULT 0,
		cost_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		sell_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		stock_frozen BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id {{pk}},
		product_id BIGINT NOT NULL REFERENCES products(id),
		type TEXT NOT NULL CHECK (type IN ('IN', 'OUT')),
		quantity NUMERIC(14,3) NOT NULL CHECK (quantity > 0),
		balance_after NUMERIC(14,3) NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id BIGINT,
		reason TEXT NOT NULL DEFAULT '',
		actor_id BIGINT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_reference ON stock_movements (reference_type, reference_id)`,
	`CREATE TABLE IF NOT EXISTS dining_tables (
		id {{pk}},
		table_number TEXT NOT NULL UNIQUE,
		capacity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'available',
		status_notes TEXT NOT NULL DEFAULT '',
		reserved_for TEXT NOT NULL DEFAULT '',
		reserved_at {{ts}},
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shifts (
		id {{pk}},
		cashier_id BIGINT NOT NULL,
		start_time {{ts}} NOT NULL,
		end_time {{ts}},
		is_closed BOOLEAN NOT NULL DEFAULT FALSE,
		opening_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		total_sales NUMERIC(14,2) NOT NULL DEFAULT 0,
		cash_sales NUMERIC(14,2) NOT NULL DEFAULT 0,
		sale_count BIGINT NOT NULL DEFAULT 0,
		expected_cash NUMERIC(14,2),
		physical_cash NUMERIC(14,2),
		shortage_extra NUMERIC(14,2),
		closed_by BIGINT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_shifts_open_cashier ON shifts (cashier_id) WHERE is_closed = FALSE`,
	`CREATE TABLE IF NOT EXISTS sales (
		id {{pk}},
		receipt_number TEXT NOT NULL UNIQUE,
		order_number BIGINT NOT NULL,
		cashier_id BIGINT NOT NULL,
		shift_id BIGINT NOT NULL REFERENCES shifts(id),
		order_type TEXT NOT NULL,
		table_number TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		customer_address TEXT NOT NULL DEFAULT '',
		subtotal NUMERIC(14,2) NOT NULL,
		discount NUMERIC(14,2) NOT NULL DEFAULT 0,
		delivery_fee NUMERIC(14,2) NOT NULL DEFAULT 0,
		total NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL,
		kitchen_status SMALLINT NOT NULL DEFAULT 0,
		kitchen_updated_at {{ts}},
		idempotency_key TEXT,
		request_hash TEXT NOT NULL DEFAULT '',
		held_order_id BIGINT,
		voided BOOLEAN NOT NULL DEFAULT FALSE,
		void_reason TEXT NOT NULL DEFAULT '',
		voided_at {{ts}},
		voided_by BIGINT,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_idempotency ON sales (cashier_id, idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_shift ON sales (shift_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_kitchen_status ON sales (kitchen_status, voided)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_table ON sales (table_number)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id {{pk}},
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		product_name TEXT NOT NULL,
		quantity NUMERIC(14,3) NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL,
		line_total NUMERIC(14,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS kitchen_logs (
		id {{pk}},
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		status SMALLINT NOT NULL,
		actor_id BIGINT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kitchen_logs_sale ON kitchen_logs (sale_id, id)`,
	`CREATE TABLE IF NOT EXISTS held_orders (
		id {{pk}},
		cashier_id BIGINT NOT NULL,
		payload TEXT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_held_orders_cashier ON held_orders (cashier_id, id)`,
	`CREATE TABLE IF NOT EXISTS receipt_sequences (
		business_day TEXT PRIMARY KEY,
		last_seq BIGINT NOT NULL
	)`,
}

// Migrate creates the schema for the configured driver
func (s *Store) Migrate(ctx context.Context) error {
	r := strings.NewReplacer(
		"{{pk}}", s.pkType(),
		"{{ts}}", s.timestampType(),
	)

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return errors.Wrapf(err, "migration failed: %s", firstLine(stmt))
		}
	}
	return nil
}

func (s *Store) pkType() string {
	if s.driver == DriverSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

func (s *Store) timestampType() string {
	if s.driver == DriverSQLite {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
