package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/bms360/billing-core/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the inventory and billing tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetQuantity(ctx context.Context, itemCode string) (int, error) {
	var qty int
	err := m.db.QueryRowContext(ctx,
		`SELECT stock_qty FROM inventory_items WHERE item_code = ?`, itemCode,
	).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.NotFoundError{ItemCode: itemCode}
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return qty, nil
}

func (m *MySQLAdapter) Reserve(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET stock_qty = stock_qty - ?, updated_at = NOW()
		WHERE item_code = ? AND stock_qty >= ?`,
		qty, itemCode, qty,
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: either the item is unknown or stock is short.
	available, err := m.GetQuantity(ctx, itemCode)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{ItemCode: itemCode, Requested: qty, Available: available}
}

func (m *MySQLAdapter) Release(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET stock_qty = stock_qty + ?, updated_at = NOW()
		WHERE item_code = ?`,
		qty, itemCode,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func (m *MySQLAdapter) CreateBill(ctx context.Context, bill domain.Bill) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bills (reference, bill_date, customer_name, customer_phone, customer_age_group,
			subtotal, gst, discount, grand_total, payment_method, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.Reference, bill.BillDate, bill.CustomerName, bill.CustomerPhone, bill.CustomerAgeGroup,
		bill.Subtotal, bill.Tax, bill.Discount, bill.GrandTotal, string(bill.PaymentMethod), bill.CreatedBy,
	)
	if isMySQLDuplicate(err) {
		return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, bill.Reference)
	}
	if err != nil {
		return 0, fmt.Errorf("insert bill: %w", err)
	}

	billID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert bill: %w", err)
	}

	for i, item := range bill.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, line_no, item_code, item_name, item_price, quantity, total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			billID, i+1, item.ItemCode, item.ItemName, item.UnitPrice, item.Quantity, item.Total,
		)
		if err != nil {
			return 0, fmt.Errorf("insert bill item %s: %w", item.ItemCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bill: %w", err)
	}
	return billID, nil
}

func (m *MySQLAdapter) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	var (
		bill   domain.Bill
		method string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT bill_id, reference, bill_date, customer_name, customer_phone, customer_age_group,
			subtotal, gst, discount, grand_total, payment_method, created_by
		FROM bills WHERE bill_id = ?`, id,
	).Scan(&bill.ID, &bill.Reference, &bill.BillDate, &bill.CustomerName, &bill.CustomerPhone,
		&bill.CustomerAgeGroup, &bill.Subtotal, &bill.Tax, &bill.Discount, &bill.GrandTotal,
		&method, &bill.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bill: %w", err)
	}
	bill.PaymentMethod = domain.PaymentMethod(method)

	rows, err := m.db.QueryContext(ctx, `
		SELECT item_code, item_name, item_price, quantity, total
		FROM bill_items WHERE bill_id = ? ORDER BY line_no`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query bill items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.BillLineItem
		if err := rows.Scan(&item.ItemCode, &item.ItemName, &item.UnitPrice, &item.Quantity, &item.Total); err != nil {
			return nil, fmt.Errorf("scan bill item: %w", err)
		}
		bill.Items = append(bill.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query bill items: %w", err)
	}
	return &bill, nil
}

func (m *MySQLAdapter) AddItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory_items
			(item_code, item_name, category, stock_qty, purchase_price, selling_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		item.ItemCode, item.Name, item.Category, item.Quantity, item.PurchasePrice, item.SellingPrice,
	)
	if isMySQLDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateItem, item.ItemCode)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

const mysqlItemColumns = `item_code, item_name, category, stock_qty, purchase_price, selling_price, created_at, updated_at`

func (m *MySQLAdapter) GetItem(ctx context.Context, itemCode string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := m.db.QueryRowContext(ctx,
		`SELECT `+mysqlItemColumns+` FROM inventory_items WHERE item_code = ?`, itemCode,
	).Scan(&item.ItemCode, &item.Name, &item.Category, &item.Quantity,
		&item.PurchasePrice, &item.SellingPrice, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{ItemCode: itemCode}
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + mysqlItemColumns + ` FROM inventory_items WHERE 1=1`)
	if filter.Search != "" {
		query.WriteString(` AND (item_name LIKE ? OR item_code LIKE ?)`)
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	if filter.Category != "" {
		query.WriteString(` AND category = ?`)
		args = append(args, filter.Category)
	}
	query.WriteString(` ORDER BY item_code`)

	rows, err := m.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ItemCode, &item.Name, &item.Category, &item.Quantity,
			&item.PurchasePrice, &item.SellingPrice, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) Categories(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT DISTINCT category FROM inventory_items ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, itemCode string, update domain.ItemUpdate) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET item_name = ?, category = ?, purchase_price = ?, selling_price = ?, updated_at = NOW()
		WHERE item_code = ?`,
		update.Name, update.Category, update.PurchasePrice, update.SellingPrice, itemCode,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	// MySQL reports changed rows, so an update repeating the stored values
	// within the same second matches nothing.
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if rows == 0 {
		_, err = m.GetQuantity(ctx, itemCode)
		return err
	}
	return nil
}

func (m *MySQLAdapter) DeleteItem(ctx context.Context, itemCode string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE item_code = ?`, itemCode)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return requireRow(result, itemCode)
}

func requireRow(result sql.Result, itemCode string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func isMySQLDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
