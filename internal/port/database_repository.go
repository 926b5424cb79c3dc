package port

import (
	"context"

	"github.com/bms360/billing-core/internal/core/domain"
)

type BillRepository interface {
	// CreateBill persists the bill header and all its line items in one
	// transaction and returns the generated bill id
	CreateBill(ctx context.Context, bill domain.Bill) (int64, error)

	// GetBill loads a committed bill with its line items
	GetBill(ctx context.Context, id int64) (*domain.Bill, error)
}

type CatalogRepository interface {
	// AddItem inserts a new item, ErrDuplicateItem if the code exists
	AddItem(ctx context.Context, item domain.InventoryItem) error

	// GetItem retrieves an item by code, ErrNotFound if unknown
	GetItem(ctx context.Context, itemCode string) (*domain.InventoryItem, error)

	// ListItems returns items matching the filter ordered by code
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error)

	// Categories returns the distinct item categories
	Categories(ctx context.Context) ([]string, error)

	// UpdateItem changes catalog fields, never the stock quantity
	UpdateItem(ctx context.Context, itemCode string, update domain.ItemUpdate) error

	// DeleteItem removes an item, ErrNotFound if unknown
	DeleteItem(ctx context.Context, itemCode string) error
}
