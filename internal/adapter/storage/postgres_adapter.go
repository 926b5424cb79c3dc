package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bms360/billing-core/internal/core/domain"
)

const pgUniqueViolation = "23505"

// PostgresAdapter implements the ledger, bill and catalog ports on PostgreSQL.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) GetQuantity(ctx context.Context, itemCode string) (int, error) {
	var qty int
	err := p.pool.QueryRow(ctx,
		`SELECT stock_qty FROM inventory_items WHERE item_code = $1`, itemCode,
	).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &domain.NotFoundError{ItemCode: itemCode}
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return qty, nil
}

func (p *PostgresAdapter) Reserve(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE inventory_items
		SET stock_qty = stock_qty - $1, updated_at = NOW()
		WHERE item_code = $2 AND stock_qty >= $1`,
		qty, itemCode,
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	available, err := p.GetQuantity(ctx, itemCode)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{ItemCode: itemCode, Requested: qty, Available: available}
}

func (p *PostgresAdapter) Release(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE inventory_items
		SET stock_qty = stock_qty + $1, updated_at = NOW()
		WHERE item_code = $2`,
		qty, itemCode,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func (p *PostgresAdapter) CreateBill(ctx context.Context, bill domain.Bill) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.Background())

	var billID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO bills (reference, bill_date, customer_name, customer_phone, customer_age_group,
			subtotal, gst, discount, grand_total, payment_method, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING bill_id`,
		bill.Reference, bill.BillDate, bill.CustomerName, bill.CustomerPhone, bill.CustomerAgeGroup,
		bill.Subtotal, bill.Tax, bill.Discount, bill.GrandTotal, string(bill.PaymentMethod), bill.CreatedBy,
	).Scan(&billID)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, bill.Reference)
	}
	if err != nil {
		return 0, fmt.Errorf("insert bill: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range bill.Items {
		batch.Queue(`
			INSERT INTO bill_items (bill_id, line_no, item_code, item_name, item_price, quantity, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			billID, i+1, item.ItemCode, item.ItemName, item.UnitPrice, item.Quantity, item.Total,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert bill items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit bill: %w", err)
	}
	return billID, nil
}

func (p *PostgresAdapter) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	var (
		bill   domain.Bill
		method string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT bill_id, reference, bill_date, customer_name, customer_phone, customer_age_group,
			subtotal, gst, discount, grand_total, payment_method, created_by
		FROM bills WHERE bill_id = $1`, id,
	).Scan(&bill.ID, &bill.Reference, &bill.BillDate, &bill.CustomerName, &bill.CustomerPhone,
		&bill.CustomerAgeGroup, &bill.Subtotal, &bill.Tax, &bill.Discount, &bill.GrandTotal,
		&method, &bill.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bill: %w", err)
	}
	bill.PaymentMethod = domain.PaymentMethod(method)

	rows, err := p.pool.Query(ctx, `
		SELECT item_code, item_name, item_price, quantity, total
		FROM bill_items WHERE bill_id = $1 ORDER BY line_no`, id,
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

func (p *PostgresAdapter) AddItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO inventory_items
			(item_code, item_name, category, stock_qty, purchase_price, selling_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		item.ItemCode, item.Name, item.Category, item.Quantity, item.PurchasePrice, item.SellingPrice,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateItem, item.ItemCode)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

const pgItemColumns = `item_code, item_name, category, stock_qty, purchase_price, selling_price, created_at, updated_at`

func scanItem(row pgx.Row) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.ItemCode, &item.Name, &item.Category, &item.Quantity,
		&item.PurchasePrice, &item.SellingPrice, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (p *PostgresAdapter) GetItem(ctx context.Context, itemCode string) (*domain.InventoryItem, error) {
	item, err := scanItem(p.pool.QueryRow(ctx,
		`SELECT `+pgItemColumns+` FROM inventory_items WHERE item_code = $1`, itemCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{ItemCode: itemCode}
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (p *PostgresAdapter) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + pgItemColumns + ` FROM inventory_items WHERE 1=1`)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		query.WriteString(` AND (item_name ILIKE $` + n + ` OR item_code ILIKE $` + n + `)`)
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query.WriteString(` AND category = $` + strconv.Itoa(len(args)))
	}
	query.WriteString(` ORDER BY item_code`)

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return items, nil
}

func (p *PostgresAdapter) Categories(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT category FROM inventory_items ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}
	return categories, nil
}

func (p *PostgresAdapter) UpdateItem(ctx context.Context, itemCode string, update domain.ItemUpdate) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE inventory_items
		SET item_name = $1, category = $2, purchase_price = $3, selling_price = $4, updated_at = NOW()
		WHERE item_code = $5`,
		update.Name, update.Category, update.PurchasePrice, update.SellingPrice, itemCode,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func (p *PostgresAdapter) DeleteItem(ctx context.Context, itemCode string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM inventory_items WHERE item_code = $1`, itemCode)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
