package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bms360/billing-core/internal/core/domain"
)

// MemoryAdapter keeps the catalog, ledger, bills and idempotency claims in
// process memory. It backs DB_DRIVER=memory and the service tests.
type MemoryAdapter struct {
	mu         sync.RWMutex
	items      map[string]domain.InventoryItem
	bills      map[int64]domain.Bill
	references map[string]int64
	nextBillID int64
	claims     map[string]time.Time
	now        func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:      make(map[string]domain.InventoryItem),
		bills:      make(map[int64]domain.Bill),
		references: make(map[string]int64),
		claims:     make(map[string]time.Time),
		now:        time.Now,
	}
}

func (m *MemoryAdapter) GetQuantity(_ context.Context, itemCode string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemCode]
	if !ok {
		return 0, &domain.NotFoundError{ItemCode: itemCode}
	}
	return item.Quantity, nil
}

func (m *MemoryAdapter) Reserve(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemCode]
	if !ok {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	if item.Quantity < qty {
		return &domain.InsufficientStockError{ItemCode: itemCode, Requested: qty, Available: item.Quantity}
	}
	item.Quantity -= qty
	item.UpdatedAt = m.now()
	m.items[itemCode] = item
	return nil
}

func (m *MemoryAdapter) Release(_ context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemCode]
	if !ok {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	item.Quantity += qty
	item.UpdatedAt = m.now()
	m.items[itemCode] = item
	return nil
}

func (m *MemoryAdapter) CreateBill(ctx context.Context, bill domain.Bill) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.references[bill.Reference]; exists {
		return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, bill.Reference)
	}

	m.nextBillID++
	id := m.nextBillID
	m.bills[id] = bill.WithID(id)
	m.references[bill.Reference] = id
	return id, nil
}

func (m *MemoryAdapter) GetBill(_ context.Context, id int64) (*domain.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bill, ok := m.bills[id]
	if !ok {
		return nil, domain.ErrBillNotFound
	}
	out := bill.WithID(id)
	return &out, nil
}

// BillCount reports how many bills have been committed.
func (m *MemoryAdapter) BillCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bills)
}

func (m *MemoryAdapter) AddItem(_ context.Context, item domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ItemCode]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateItem, item.ItemCode)
	}
	now := m.now()
	item.CreatedAt, item.UpdatedAt = now, now
	m.items[item.ItemCode] = item
	return nil
}

func (m *MemoryAdapter) GetItem(_ context.Context, itemCode string) (*domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemCode]
	if !ok {
		return nil, &domain.NotFoundError{ItemCode: itemCode}
	}
	return &item, nil
}

func (m *MemoryAdapter) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var items []domain.InventoryItem
	for _, item := range m.items {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.ItemCode), search) {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		return strings.Compare(a.ItemCode, b.ItemCode)
	})
	return items, nil
}

func (m *MemoryAdapter) Categories(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var categories []string
	for _, item := range m.items {
		if _, ok := seen[item.Category]; ok {
			continue
		}
		seen[item.Category] = struct{}{}
		categories = append(categories, item.Category)
	}
	slices.Sort(categories)
	return categories, nil
}

func (m *MemoryAdapter) UpdateItem(_ context.Context, itemCode string, update domain.ItemUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemCode]
	if !ok {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	item.Name = update.Name
	item.Category = update.Category
	item.PurchasePrice = update.PurchasePrice
	item.SellingPrice = update.SellingPrice
	item.UpdatedAt = m.now()
	m.items[itemCode] = item
	return nil
}

func (m *MemoryAdapter) DeleteItem(_ context.Context, itemCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[itemCode]; !ok {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	delete(m.items, itemCode)
	return nil
}

func (m *MemoryAdapter) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if claimed, ok := m.claims[key]; ok && now.Sub(claimed) < idempotencyKeyTTL {
		return false, nil
	}
	m.claims[key] = now
	return true, nil
}

func (m *MemoryAdapter) ClearIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, key)
	return nil
}
