package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency claims key, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency releases a claim so a failed request can be resubmitted
	ClearIdempotency(ctx context.Context, key string) error
}

// StockSeeder is implemented by ledgers that mirror the catalog (Redis) and
// must be told about items created or removed elsewhere.
type StockSeeder interface {
	// SetStock overwrites the quantity held for itemCode
	SetStock(ctx context.Context, itemCode string, quantity int) error

	// DeleteStock forgets itemCode
	DeleteStock(ctx context.Context, itemCode string) error
}
