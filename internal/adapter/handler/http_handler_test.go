package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bms360/billing-core/internal/adapter/storage"
	"github.com/bms360/billing-core/internal/core/domain"
	"github.com/bms360/billing-core/internal/core/service"
)

type testServer struct {
	router *gin.Engine
	store  *storage.MemoryAdapter
}

func newTestServer(t *testing.T, stock map[string]int) *testServer {
	t.Helper()

	store := storage.NewMemoryAdapter()
	for code, qty := range stock {
		require.NoError(t, store.AddItem(context.Background(), domain.InventoryItem{
			ItemCode:     code,
			Name:         "Item " + code,
			Category:     "General",
			Quantity:     qty,
			SellingPrice: decimal.NewFromInt(100),
		}))
	}

	log := zaptest.NewLogger(t)
	sales := service.NewSaleService(store, store, service.WithIdempotency(store), service.WithSaleLogger(log))
	inventory := service.NewInventoryService(store, store, log)

	r := gin.New()
	r.Use(AccessLog(log))
	NewHTTPHandler(sales, inventory, log).Register(r)
	return &testServer{router: r, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func billingBody(items ...map[string]any) map[string]any {
	return map[string]any{
		"customerName":  "Asha",
		"customerPhone": "9800000000",
		"paymentMethod": "UPI",
		"discount":      "",
		"billItems":     items,
	}
}

func billItem(code string, qty int, price any) map[string]any {
	return map[string]any{"name": "Item " + code, "item_code": code, "qty": qty, "price": price}
}

func TestCreateBill_Success(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 5})

	w, out := s.do(t, http.MethodPost, "/api/billing", billingBody(billItem("A", 2, 250)),
		HeaderUserID, "u-17", HeaderDepartment, "sales")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "590.00", out["grand_total"])
	assert.NotZero(t, out["bill_id"])

	qty, err := s.store.GetQuantity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	bill, err := s.store.GetBill(context.Background(), int64(out["bill_id"].(float64)))
	require.NoError(t, err)
	assert.Equal(t, "u-17", bill.CreatedBy)
	assert.Equal(t, domain.PaymentUPI, bill.PaymentMethod)
}

func TestCreateBill_DiscountAcceptsNumberAndString(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 5})

	for _, discount := range []any{10, "10", "10.00"} {
		body := billingBody(billItem("A", 1, "100"))
		body["discount"] = discount
		w, out := s.do(t, http.MethodPost, "/api/billing", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "108.00", out["grand_total"])
	}
}

func TestCreateBill_InsufficientStock(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 1, "B": 5})

	w, out := s.do(t, http.MethodPost, "/api/billing", billingBody(billItem("A", 2, 100), billItem("B", 1, 100)))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "not enough stock for: Item A (code: A)")
	require.Len(t, out["items"], 1)

	qty, err := s.store.GetQuantity(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, 5, qty)
}

func TestCreateBill_ValidationDetails(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 5})

	w, out := s.do(t, http.MethodPost, "/api/billing", billingBody(billItem("A", 0, 100), billItem("", 1, -5)))

	require.Equal(t, http.StatusBadRequest, w.Code)
	details, ok := out["details"].([]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(details), 3)
	assert.Equal(t, 0, s.store.BillCount())
}

func TestCreateBill_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/billing", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBill_DuplicateRequestID(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 5})

	body := billingBody(billItem("A", 1, 100))
	body["requestId"] = "req-1"

	w, _ := s.do(t, http.MethodPost, "/api/billing", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/billing", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, s.store.BillCount())
}

func TestCreateBill_ReplayWithoutIdempotencyStoreIsConflict(t *testing.T) {
	store := storage.NewMemoryAdapter()
	require.NoError(t, store.AddItem(context.Background(), domain.InventoryItem{
		ItemCode: "A", Name: "Item A", Quantity: 5, SellingPrice: decimal.NewFromInt(100),
	}))

	log := zaptest.NewLogger(t)
	r := gin.New()
	NewHTTPHandler(service.NewSaleService(store, store, service.WithSaleLogger(log)), nil, log).Register(r)
	s := &testServer{router: r, store: store}

	body := billingBody(billItem("A", 1, 100))
	body["requestId"] = "req-sql-1"

	w, _ := s.do(t, http.MethodPost, "/api/billing", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, out := s.do(t, http.MethodPost, "/api/billing", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Nil(t, out["retryable"])
	assert.Equal(t, 1, store.BillCount())

	qty, err := store.GetQuantity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 4, qty)
}

type stubSales struct {
	err error
}

func (s stubSales) CreateSale(context.Context, domain.SaleRequest) (domain.Bill, error) {
	return domain.Bill{}, s.err
}

func (s stubSales) GetBill(context.Context, int64) (*domain.Bill, error) {
	return nil, s.err
}

func TestCreateBill_PersistenceFailureIsRetryable(t *testing.T) {
	r := gin.New()
	perr := &domain.PersistenceError{Stage: "persist", Err: errors.New("deadline exceeded")}
	NewHTTPHandler(stubSales{err: perr}, nil, zaptest.NewLogger(t)).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/billing", bytes.NewBufferString(`{"billItems":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Failed to save bill. Try again.", out["error"])
	assert.Equal(t, true, out["retryable"])
}

func TestGetBill(t *testing.T) {
	s := newTestServer(t, map[string]int{"A": 5})

	_, created := s.do(t, http.MethodPost, "/api/billing", billingBody(billItem("A", 1, 100)))
	id := int64(created["bill_id"].(float64))

	w, out := s.do(t, http.MethodGet, "/api/bills/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	bill := out["bill"].(map[string]any)
	total, ok := bill["grand_total"].(string)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString(total).Equal(decimal.NewFromInt(118)), total)

	w, _ = s.do(t, http.MethodGet, "/api/bills/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/bills/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodPost, "/api/inventory", map[string]any{
		"item_code": "P-1", "item_name": "Pen", "category": "Stationery",
		"stock_qty": 10, "purchase_price": "4.50", "selling_price": "7.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodPost, "/api/inventory", map[string]any{"item_code": "P-1", "item_name": "Pen"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, out := s.do(t, http.MethodPost, "/api/inventory/P-1/restock", map[string]any{"qty": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 15, out["stock_qty"])

	w, _ = s.do(t, http.MethodPost, "/api/inventory/P-1/restock", map[string]any{"qty": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = s.do(t, http.MethodGet, "/api/inventory/P-1/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 15, out["stock_qty"])

	w, _ = s.do(t, http.MethodPut, "/api/inventory/P-1", map[string]any{
		"item_name": "Gel Pen", "category": "Stationery", "purchase_price": "5", "selling_price": "8", "stock_qty": 999,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, out = s.do(t, http.MethodGet, "/api/inventory/P-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	product := out["product"].(map[string]any)
	assert.Equal(t, "Gel Pen", product["item_name"])
	assert.EqualValues(t, 15, product["stock_qty"])

	w, out = s.do(t, http.MethodGet, "/api/inventory?search=gel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["inventory_items"], 1)

	w, out = s.do(t, http.MethodGet, "/api/inventory/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"Stationery"}, out["categories"])

	w, out = s.do(t, http.MethodGet, "/api/inventory/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := out["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "P-1", products[0].(map[string]any)["code"])

	w, _ = s.do(t, http.MethodDelete, "/api/inventory/P-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/inventory/P-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)

	w, out := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}
