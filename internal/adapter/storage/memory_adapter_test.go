package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bms360/billing-core/internal/core/domain"
)

func seedMemory(t *testing.T, items ...domain.InventoryItem) *MemoryAdapter {
	t.Helper()

	m := NewMemoryAdapter()
	for _, item := range items {
		require.NoError(t, m.AddItem(context.Background(), item))
	}
	return m
}

func TestMemoryReserveAndRelease(t *testing.T) {
	m := seedMemory(t, domain.InventoryItem{ItemCode: "A1", Name: "Pen", Quantity: 5})
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, "A1", 5))
	qty, err := m.GetQuantity(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	err = m.Reserve(ctx, "A1", 1)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)

	require.NoError(t, m.Release(ctx, "A1", 2))
	qty, err = m.GetQuantity(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 2, qty)
}

func TestMemoryUnknownItem(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	_, err := m.GetQuantity(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, m.Reserve(ctx, "nope", 1), domain.ErrNotFound)
	assert.ErrorIs(t, m.Release(ctx, "nope", 1), domain.ErrNotFound)
}

func TestMemoryReserveHonoursCancelledContext(t *testing.T) {
	m := seedMemory(t, domain.InventoryItem{ItemCode: "A1", Quantity: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Reserve(ctx, "A1", 1), context.Canceled)

	qty, _ := m.GetQuantity(context.Background(), "A1")
	assert.Equal(t, 5, qty)
}

func TestMemoryReserve_Concurrent(t *testing.T) {
	m := seedMemory(t, domain.InventoryItem{ItemCode: "A1", Quantity: 20})
	ctx := context.Background()

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Reserve(ctx, "A1", 1) == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), successCount.Load())
	qty, _ := m.GetQuantity(ctx, "A1")
	assert.Equal(t, 0, qty)
}

func TestMemoryBills(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	bill := domain.Bill{
		Reference:  "ref-1",
		BillDate:   time.Now(),
		GrandTotal: decimal.RequireFromString("590.00"),
		Items: []domain.BillLineItem{
			{ItemCode: "A1", ItemName: "Pen", Quantity: 5, UnitPrice: decimal.NewFromInt(100), Total: decimal.NewFromInt(500)},
		},
	}

	id, err := m.CreateBill(ctx, bill)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := m.GetBill(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "590", got.GrandTotal.String())
	require.Len(t, got.Items, 1)

	got.Items[0].Quantity = 99
	again, _ := m.GetBill(ctx, id)
	assert.Equal(t, 5, again.Items[0].Quantity, "stored bills are immutable")

	_, err = m.CreateBill(ctx, bill)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest, "reference must be unique")
	assert.Equal(t, 1, m.BillCount())

	_, err = m.GetBill(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrBillNotFound)
}

func TestMemoryCatalog(t *testing.T) {
	m := seedMemory(t,
		domain.InventoryItem{ItemCode: "B2", Name: "Notebook", Category: "stationery", Quantity: 3},
		domain.InventoryItem{ItemCode: "A1", Name: "Blue Pen", Category: "stationery", Quantity: 5},
		domain.InventoryItem{ItemCode: "C3", Name: "Soap", Category: "household", Quantity: 1},
	)
	ctx := context.Background()

	err := m.AddItem(ctx, domain.InventoryItem{ItemCode: "A1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateItem)

	items, err := m.ListItems(ctx, domain.ItemFilter{Category: "stationery"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A1", items[0].ItemCode)

	items, err = m.ListItems(ctx, domain.ItemFilter{Search: "pen"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Blue Pen", items[0].Name)

	categories, err := m.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"household", "stationery"}, categories)

	require.NoError(t, m.UpdateItem(ctx, "C3", domain.ItemUpdate{Name: "Hand Soap", Category: "household"}))
	item, err := m.GetItem(ctx, "C3")
	require.NoError(t, err)
	assert.Equal(t, "Hand Soap", item.Name)
	assert.Equal(t, 1, item.Quantity, "update never touches stock")

	require.NoError(t, m.DeleteItem(ctx, "C3"))
	assert.ErrorIs(t, m.DeleteItem(ctx, "C3"), domain.ErrNotFound)
	assert.ErrorIs(t, m.UpdateItem(ctx, "C3", domain.ItemUpdate{}), domain.ErrNotFound)
}

func TestMemoryIdempotency(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ok, err := m.SetIdempotency(ctx, "req")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.SetIdempotency(ctx, "req")
	assert.False(t, ok)

	now = now.Add(idempotencyKeyTTL)
	ok, _ = m.SetIdempotency(ctx, "req")
	assert.True(t, ok, "claim expires after the TTL")

	require.NoError(t, m.ClearIdempotency(ctx, "req"))
	ok, _ = m.SetIdempotency(ctx, "req")
	assert.True(t, ok)
}
