package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bms360/billing-core/internal/core/domain"
)

type SaleUseCase interface {
	CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Bill, error)
	GetBill(ctx context.Context, id int64) (*domain.Bill, error)
}

type InventoryUseCase interface {
	AddItem(ctx context.Context, item domain.InventoryItem) error
	GetItem(ctx context.Context, itemCode string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error)
	Categories(ctx context.Context) ([]string, error)
	UpdateItem(ctx context.Context, itemCode string, update domain.ItemUpdate) error
	DeleteItem(ctx context.Context, itemCode string) error
	Restock(ctx context.Context, itemCode string, qty int) (int, error)
	StockOf(ctx context.Context, itemCode string) (int, error)
}

type HTTPHandler struct {
	sales     SaleUseCase
	inventory InventoryUseCase
	logger    *zap.Logger
}

// optionalDecimal accepts a JSON number, a numeric string, an empty string
// or null.
type optionalDecimal struct {
	value *decimal.Decimal
}

func (o *optionalDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		o.value = nil
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return err
	}
	o.value = &d
	return nil
}

type BillItemRequest struct {
	Name     string          `json:"name"`
	ItemCode string          `json:"item_code"`
	Qty      int             `json:"qty"`
	Price    decimal.Decimal `json:"price"`
}

type BillingRequest struct {
	RequestID        string            `json:"requestId"`
	CustomerName     string            `json:"customerName"`
	CustomerPhone    string            `json:"customerPhone"`
	CustomerAgeGroup string            `json:"customerAgeGroup"`
	PaymentMethod    string            `json:"paymentMethod"`
	Discount         optionalDecimal   `json:"discount"`
	BillItems        []BillItemRequest `json:"billItems"`
}

type BillingResponse struct {
	Success    bool   `json:"success"`
	BillID     int64  `json:"bill_id,omitempty"`
	Reference  string `json:"reference,omitempty"`
	GrandTotal string `json:"grand_total,omitempty"`
}

type ErrorResponse struct {
	Success   bool                  `json:"success"`
	Error     string                `json:"error"`
	Details   []domain.FieldError   `json:"details,omitempty"`
	Items     []domain.StockFailure `json:"items,omitempty"`
	Retryable bool                  `json:"retryable,omitempty"`
}

type ItemRequest struct {
	ItemCode      string          `json:"item_code"`
	Name          string          `json:"item_name"`
	Category      string          `json:"category"`
	Quantity      int             `json:"stock_qty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

func NewHTTPHandler(sales SaleUseCase, inventory InventoryUseCase, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{sales: sales, inventory: inventory, logger: logger}
}

// Register mounts every route on r.
func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", Identity())
	api.POST("/billing", h.CreateBill)
	api.GET("/bills/:id", h.GetBill)

	inv := api.Group("/inventory")
	inv.GET("", h.ListItems)
	inv.GET("/categories", h.Categories)
	inv.GET("/products", h.Products)
	inv.POST("", h.AddItem)
	inv.GET("/:code", h.GetItem)
	inv.PUT("/:code", h.UpdateItem)
	inv.DELETE("/:code", h.DeleteItem)
	inv.GET("/:code/stock", h.Stock)
	inv.POST("/:code/restock", h.Restock)
}

func (h *HTTPHandler) CreateBill(c *gin.Context) {
	var req BillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	sale := domain.SaleRequest{
		RequestID:        req.RequestID,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerAgeGroup: req.CustomerAgeGroup,
		PaymentMethod:    req.PaymentMethod,
		Discount:         req.Discount.value,
		Items:            make([]domain.SaleLine, len(req.BillItems)),
		CreatedBy:        actorID(c),
	}
	for i, item := range req.BillItems {
		sale.Items[i] = domain.SaleLine{
			ItemCode:  item.ItemCode,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Qty,
		}
	}

	bill, err := h.sales.CreateSale(c.Request.Context(), sale)
	if err != nil {
		h.writeSaleError(c, err)
		return
	}

	c.JSON(http.StatusOK, BillingResponse{
		Success:    true,
		BillID:     bill.ID,
		Reference:  bill.Reference,
		GrandTotal: bill.GrandTotal.StringFixed(2),
	})
}

func (h *HTTPHandler) writeSaleError(c *gin.Context, err error) {
	var (
		verr     *domain.ValidationError
		stockErr *domain.StockError
		perr     *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Details: verr.Fields})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: stockErr.Error(), Items: stockErr.Failures})
	case errors.Is(err, domain.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate request"})
	case errors.As(err, &perr):
		h.logger.Error("sale failed", zap.String("stage", perr.Stage), zap.String("by", actorID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "Failed to save bill. Try again.",
			Retryable: perr.Retryable(),
		})
	default:
		h.logger.Error("sale failed", zap.String("by", actorID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func (h *HTTPHandler) GetBill(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid bill id"})
		return
	}

	bill, err := h.sales.GetBill(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bill": bill})
}

func (h *HTTPHandler) ListItems(c *gin.Context) {
	items, err := h.inventory.ListItems(c.Request.Context(), domain.ItemFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	c.JSON(http.StatusOK, gin.H{"inventory_items": items})
}

func (h *HTTPHandler) Categories(c *gin.Context) {
	categories, err := h.inventory.Categories(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// Products lists the catalog in the shape the billing screen uses.
func (h *HTTPHandler) Products(c *gin.Context) {
	items, err := h.inventory.ListItems(c.Request.Context(), domain.ItemFilter{})
	if err != nil {
		h.writeError(c, err)
		return
	}
	products := make([]gin.H, len(items))
	for i, item := range items {
		products[i] = gin.H{"code": item.ItemCode, "name": item.Name, "price": item.SellingPrice}
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *HTTPHandler) AddItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	err := h.inventory.AddItem(c.Request.Context(), domain.InventoryItem{
		ItemCode:      req.ItemCode,
		Name:          req.Name,
		Category:      req.Category,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Product added successfully"})
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	item, err := h.inventory.GetItem(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": item})
}

func (h *HTTPHandler) UpdateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	err := h.inventory.UpdateItem(c.Request.Context(), c.Param("code"), domain.ItemUpdate{
		Name:          req.Name,
		Category:      req.Category,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product updated successfully"})
}

func (h *HTTPHandler) DeleteItem(c *gin.Context) {
	if err := h.inventory.DeleteItem(c.Request.Context(), c.Param("code")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product deleted successfully"})
}

func (h *HTTPHandler) Stock(c *gin.Context) {
	qty, err := h.inventory.StockOf(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_code": c.Param("code"), "stock_qty": qty})
}

func (h *HTTPHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	qty, err := h.inventory.Restock(c.Request.Context(), c.Param("code"), req.Qty)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Stock added successfully", "stock_qty": qty})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps catalog and lookup errors to status codes.
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Details: verr.Fields})
	case errors.Is(err, domain.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBillNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrDuplicateItem):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
