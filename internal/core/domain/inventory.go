package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryItem struct {
	ItemCode      string          `json:"item_code"`
	Name          string          `json:"item_name"`
	Category      string          `json:"category"`
	Quantity      int             `json:"stock_qty"` // never negative
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ItemUpdate carries the catalog fields that may change after creation.
// Quantity only moves through the ledger.
type ItemUpdate struct {
	Name          string
	Category      string
	PurchasePrice decimal.Decimal
	SellingPrice  decimal.Decimal
}

type ItemFilter struct {
	Search   string
	Category string
}

// StockMovement is a signed quantity change applied to one item, negative
// for sales and positive for restocks.
type StockMovement struct {
	ItemCode string
	Delta    int
	Source   string
}
