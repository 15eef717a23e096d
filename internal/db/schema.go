package db

// Schema DDL per engine. Timestamps are written by the application in UTC,
// so no engine-specific time functions appear in repository SQL.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS menu_items (
		id BIGINT NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		available TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT NOT NULL AUTO_INCREMENT,
		order_number VARCHAR(16) NOT NULL,
		customer_name VARCHAR(255) NOT NULL DEFAULT 'Guest',
		customer_email VARCHAR(255) NOT NULL DEFAULT '',
		customer_phone VARCHAR(64) NOT NULL DEFAULT '',
		delivery_method VARCHAR(16) NOT NULL,
		delivery_address TEXT,
		status VARCHAR(16) NOT NULL,
		subtotal BIGINT NOT NULL,
		tax BIGINT NOT NULL,
		delivery_fee BIGINT NOT NULL,
		total BIGINT NOT NULL,
		payment_status VARCHAR(16) NOT NULL,
		payment_reference VARCHAR(255) NOT NULL DEFAULT '',
		customer_notes TEXT,
		estimated_time_minutes INT NOT NULL DEFAULT 30,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_orders_order_number (order_number),
		KEY idx_orders_payment_reference (payment_reference),
		KEY idx_orders_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT NOT NULL AUTO_INCREMENT,
		order_id BIGINT NOT NULL,
		menu_item_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		price BIGINT NOT NULL,
		notes TEXT,
		fulfillment VARCHAR(16) NOT NULL DEFAULT 'pending',
		PRIMARY KEY (id),
		KEY idx_order_items_order_id (order_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id BIGINT NOT NULL AUTO_INCREMENT,
		order_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		updated_by VARCHAR(255) NOT NULL DEFAULT '',
		notes TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		KEY idx_history_order_id (order_id),
		CONSTRAINT fk_history_order FOREIGN KEY (order_id) REFERENCES orders (id)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		processed_at DATETIME NOT NULL,
		PRIMARY KEY (event_id)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS menu_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price INTEGER NOT NULL,
		available INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL DEFAULT 'Guest',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		delivery_method TEXT NOT NULL,
		delivery_address TEXT,
		status TEXT NOT NULL,
		subtotal INTEGER NOT NULL,
		tax INTEGER NOT NULL,
		delivery_fee INTEGER NOT NULL,
		total INTEGER NOT NULL,
		payment_status TEXT NOT NULL,
		payment_reference TEXT NOT NULL DEFAULT '',
		customer_notes TEXT,
		estimated_time_minutes INTEGER NOT NULL DEFAULT 30,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_payment_reference ON orders (payment_reference)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders (id),
		menu_item_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		price INTEGER NOT NULL,
		notes TEXT,
		fulfillment TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders (id),
		status TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		notes TEXT,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_order_id ON order_status_history (order_id)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at DATETIME NOT NULL
	)`,
}

// EnsureSchema creates any missing tables for the active engine. Connect
// runs it on startup; tests run it against throwaway databases.
func (d *DB) EnsureSchema() error {
	stmts := mysqlSchema
	if d.driver == DriverSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := d.sqlx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
