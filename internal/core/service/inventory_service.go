package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bms360/billing-core/internal/core/domain"
	"github.com/bms360/billing-core/internal/port"
)

// InventoryService exposes the catalog hooks: add, update, delete, restock
// and listing. Stock always moves through the ledger; when the ledger is a
// separate store (Redis) the seeder keeps it in step with the catalog.
type InventoryService struct {
	catalog port.CatalogRepository
	ledger  port.StockLedger
	seeder  port.StockSeeder
	mirror  StockMirror
	timeout time.Duration
	logger  *zap.Logger
}

func NewInventoryService(catalog port.CatalogRepository, ledger port.StockLedger, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{
		catalog: catalog,
		ledger:  ledger,
		timeout: defaultStoreTimeout,
		logger:  logger,
	}
}

// WithSeparateLedger marks the ledger as a store of its own that must be
// seeded on catalog changes, and whose movements are mirrored back.
func (s *InventoryService) WithSeparateLedger(seeder port.StockSeeder, mirror StockMirror) *InventoryService {
	s.seeder = seeder
	s.mirror = mirror
	return s
}

func (s *InventoryService) WithTimeout(d time.Duration) *InventoryService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func validateItem(item domain.InventoryItem) error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(item.ItemCode) == "" {
		verr.AddHeader("item_code", "is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		verr.AddHeader("item_name", "is required")
	}
	if item.Quantity < 0 {
		verr.AddHeader("stock_qty", "must not be negative")
	}
	if item.PurchasePrice.IsNegative() {
		verr.AddHeader("purchase_price", "must not be negative")
	}
	if item.SellingPrice.IsNegative() {
		verr.AddHeader("selling_price", "must not be negative")
	}
	return verr.Err()
}

func (s *InventoryService) AddItem(ctx context.Context, item domain.InventoryItem) error {
	item.ItemCode = strings.TrimSpace(item.ItemCode)
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)
	if err := validateItem(item); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.catalog.AddItem(ctx, item); err != nil {
		return err
	}
	if s.seeder != nil {
		if err := s.seeder.SetStock(ctx, item.ItemCode, item.Quantity); err != nil {
			err = fmt.Errorf("seed ledger: %w", err)
			// an item the ledger does not know could never be sold
			dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer dcancel()
			if derr := s.catalog.DeleteItem(dctx, item.ItemCode); derr != nil {
				s.logger.Error("failed to remove unseeded item",
					zap.String("item_code", item.ItemCode), zap.Error(derr))
				return errors.Join(err, fmt.Errorf("remove unseeded item: %w", derr))
			}
			return err
		}
	}

	s.logger.Info("inventory item added",
		zap.String("item_code", item.ItemCode),
		zap.Int("stock_qty", item.Quantity),
		zap.String("by", domain.ActorFromContext(ctx)),
	)
	return nil
}

// GetItem returns the catalog entry with its quantity taken from the ledger.
func (s *InventoryService) GetItem(ctx context.Context, itemCode string) (*domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	item, err := s.catalog.GetItem(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	if err := s.overlayStock(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *InventoryService) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	items, err := s.catalog.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := s.overlayStock(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *InventoryService) overlayStock(ctx context.Context, item *domain.InventoryItem) error {
	if s.seeder == nil {
		return nil
	}
	qty, err := s.ledger.GetQuantity(ctx, item.ItemCode)
	if errors.Is(err, domain.ErrNotFound) {
		// not seeded yet, the catalog value stands
		return nil
	}
	if err != nil {
		return err
	}
	item.Quantity = qty
	return nil
}

func (s *InventoryService) Categories(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.catalog.Categories(ctx)
}

func (s *InventoryService) UpdateItem(ctx context.Context, itemCode string, update domain.ItemUpdate) error {
	update.Name = strings.TrimSpace(update.Name)
	update.Category = strings.TrimSpace(update.Category)

	verr := &domain.ValidationError{}
	if update.Name == "" {
		verr.AddHeader("item_name", "is required")
	}
	if update.PurchasePrice.IsNegative() {
		verr.AddHeader("purchase_price", "must not be negative")
	}
	if update.SellingPrice.IsNegative() {
		verr.AddHeader("selling_price", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.catalog.UpdateItem(ctx, itemCode, update); err != nil {
		return err
	}
	s.logger.Info("inventory item updated", zap.String("item_code", itemCode), zap.String("by", domain.ActorFromContext(ctx)))
	return nil
}

func (s *InventoryService) DeleteItem(ctx context.Context, itemCode string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.catalog.DeleteItem(ctx, itemCode); err != nil {
		return err
	}
	if s.seeder != nil {
		if err := s.seeder.DeleteStock(ctx, itemCode); err != nil {
			s.logger.Warn("failed to drop ledger entry", zap.String("item_code", itemCode), zap.Error(err))
		}
	}
	s.logger.Info("inventory item deleted", zap.String("item_code", itemCode), zap.String("by", domain.ActorFromContext(ctx)))
	return nil
}

// Restock adds qty to the ledger and returns the new quantity-on-hand.
func (s *InventoryService) Restock(ctx context.Context, itemCode string, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ledger.Release(ctx, itemCode, qty); err != nil {
		return 0, err
	}
	if s.mirror != nil {
		s.mirror.Publish(domain.StockMovement{ItemCode: itemCode, Delta: qty, Source: "restock"})
	}

	current, err := s.ledger.GetQuantity(ctx, itemCode)
	if err != nil {
		return 0, err
	}
	s.logger.Info("inventory restocked",
		zap.String("item_code", itemCode),
		zap.Int("added", qty),
		zap.Int("stock_qty", current),
		zap.String("by", domain.ActorFromContext(ctx)),
	)
	return current, nil
}

func (s *InventoryService) StockOf(ctx context.Context, itemCode string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ledger.GetQuantity(ctx, itemCode)
}

// SyncLedger seeds the separate ledger with every catalog quantity. It is a
// no-op when the catalog itself is the ledger.
func (s *InventoryService) SyncLedger(ctx context.Context) (int, error) {
	if s.seeder == nil {
		return 0, nil
	}

	items, err := s.catalog.ListItems(ctx, domain.ItemFilter{})
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	for _, item := range items {
		if err := s.seeder.SetStock(ctx, item.ItemCode, item.Quantity); err != nil {
			return 0, fmt.Errorf("seed %s: %w", item.ItemCode, err)
		}
	}
	s.logger.Info("ledger seeded from catalog", zap.Int("items", len(items)))
	return len(items), nil
}
