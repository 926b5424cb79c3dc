package storage

// Unit prices and discounts keep the caller's precision; only computed
// totals are stored at two places.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id INT AUTO_INCREMENT PRIMARY KEY,
		item_code VARCHAR(64) NOT NULL UNIQUE,
		item_name VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT '',
		stock_qty INT NOT NULL DEFAULT 0,
		purchase_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		selling_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_stock_non_negative CHECK (stock_qty >= 0),
		INDEX idx_inventory_category (category)
	)`,
	`CREATE TABLE IF NOT EXISTS bills (
		bill_id BIGINT AUTO_INCREMENT PRIMARY KEY,
		reference VARCHAR(36) NOT NULL UNIQUE,
		bill_date DATETIME NOT NULL,
		customer_name VARCHAR(255) NOT NULL DEFAULT '',
		customer_phone VARCHAR(32) NOT NULL DEFAULT '',
		customer_age_group VARCHAR(32) NOT NULL DEFAULT '',
		subtotal DECIMAL(12,2) NOT NULL,
		gst DECIMAL(12,2) NOT NULL,
		discount DECIMAL(18,6) NOT NULL,
		grand_total DECIMAL(12,2) NOT NULL,
		payment_method VARCHAR(20) NOT NULL,
		created_by VARCHAR(100) NOT NULL DEFAULT '',
		INDEX idx_bills_date (bill_date)
	)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		bill_id BIGINT NOT NULL,
		line_no INT NOT NULL,
		item_code VARCHAR(64) NOT NULL,
		item_name VARCHAR(255) NOT NULL,
		item_price DECIMAL(18,6) NOT NULL,
		quantity INT NOT NULL,
		total DECIMAL(12,2) NOT NULL,
		CONSTRAINT fk_bill_items_bill FOREIGN KEY (bill_id) REFERENCES bills(bill_id) ON DELETE CASCADE,
		INDEX idx_bill_items_code (item_code)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id SERIAL PRIMARY KEY,
		item_code VARCHAR(64) NOT NULL UNIQUE,
		item_name VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT '',
		stock_qty INTEGER NOT NULL DEFAULT 0 CHECK (stock_qty >= 0),
		purchase_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inventory_category ON inventory_items(category)`,
	`CREATE TABLE IF NOT EXISTS bills (
		bill_id BIGSERIAL PRIMARY KEY,
		reference VARCHAR(36) NOT NULL UNIQUE,
		bill_date TIMESTAMPTZ NOT NULL,
		customer_name VARCHAR(255) NOT NULL DEFAULT '',
		customer_phone VARCHAR(32) NOT NULL DEFAULT '',
		customer_age_group VARCHAR(32) NOT NULL DEFAULT '',
		subtotal NUMERIC(12,2) NOT NULL,
		gst NUMERIC(12,2) NOT NULL,
		discount NUMERIC(18,6) NOT NULL,
		grand_total NUMERIC(12,2) NOT NULL,
		payment_method VARCHAR(20) NOT NULL,
		created_by VARCHAR(100) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bills_date ON bills(bill_date)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		id BIGSERIAL PRIMARY KEY,
		bill_id BIGINT NOT NULL REFERENCES bills(bill_id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		item_code VARCHAR(64) NOT NULL,
		item_name VARCHAR(255) NOT NULL,
		item_price NUMERIC(18,6) NOT NULL,
		quantity INTEGER NOT NULL,
		total NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bill_items_code ON bill_items(item_code)`,
}
