package port

import "context"

// StockLedger is the single source of truth for quantity-on-hand.
// Implementations must make Reserve one atomic check-and-decrement.
type StockLedger interface {
	// GetQuantity returns the current quantity, NotFoundError if unknown
	GetQuantity(ctx context.Context, itemCode string) (int, error)

	// Reserve decrements stock only if at least qty is on hand,
	// InsufficientStockError otherwise (ledger unchanged)
	Reserve(ctx context.Context, itemCode string, qty int) error

	// Release increments stock, used for compensation and restocking
	Release(ctx context.Context, itemCode string, qty int) error
}
