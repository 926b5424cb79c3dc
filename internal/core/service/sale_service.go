package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bms360/billing-core/internal/core/domain"
	"github.com/bms360/billing-core/internal/port"
)

const (
	instrumentationName = "github.com/bms360/billing-core/internal/core/service"
	defaultStoreTimeout = 5 * time.Second
)

// StockMirror follows movements committed against the ledger, for stores
// that keep their own copy of quantity-on-hand.
type StockMirror interface {
	Publish(movements ...domain.StockMovement)
}

// StateHook observes every state a sale passes through.
type StateHook func(reference string, state domain.SaleState)

type SaleOption func(*SaleService)

func WithIdempotency(store port.IdempotencyStore) SaleOption {
	return func(s *SaleService) { s.idempotency = store }
}

func WithStoreTimeout(d time.Duration) SaleOption {
	return func(s *SaleService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithSaleLogger(logger *zap.Logger) SaleOption {
	return func(s *SaleService) { s.logger = logger }
}

func WithStateHook(hook StateHook) SaleOption {
	return func(s *SaleService) { s.onState = hook }
}

func WithStockMirror(mirror StockMirror) SaleOption {
	return func(s *SaleService) { s.mirror = mirror }
}

func WithComposer(c *BillComposer) SaleOption {
	return func(s *SaleService) { s.composer = c }
}

// WithTelemetry replaces the global otel providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) SaleOption {
	return func(s *SaleService) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
		if mp != nil {
			s.meter = mp.Meter(instrumentationName)
		}
	}
}

// SaleService coordinates a sale: reserve every line, persist the bill,
// and release the reservations again when anything fails.
type SaleService struct {
	composer     *BillComposer
	ledger       port.StockLedger
	bills        port.BillRepository
	idempotency  port.IdempotencyStore
	mirror       StockMirror
	storeTimeout time.Duration
	logger       *zap.Logger
	onState      StateHook

	tracer        trace.Tracer
	meter         metric.Meter
	committed     metric.Int64Counter
	rolledBack    metric.Int64Counter
	compensations metric.Int64Counter
}

func NewSaleService(ledger port.StockLedger, bills port.BillRepository, opts ...SaleOption) *SaleService {
	s := &SaleService{
		composer:     NewBillComposer(),
		ledger:       ledger,
		bills:        bills,
		storeTimeout: defaultStoreTimeout,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(instrumentationName),
		meter:        otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.committed = newCounter(s.meter, "sales.committed", "Sales persisted with a bill")
	s.rolledBack = newCounter(s.meter, "sales.rolled_back", "Sales abandoned after validation, stock or store failure")
	s.compensations = newCounter(s.meter, "stock.compensations", "Reservations released by compensation")
	return s
}

func newCounter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (s *SaleService) setState(ref string, state domain.SaleState) {
	s.logger.Debug("sale state", zap.String("reference", ref), zap.String("state", string(state)))
	if s.onState != nil {
		s.onState(ref, state)
	}
}

// CreateSale claims the request id, composes the bill and executes it. The
// claim is released when the sale fails so the caller may resubmit.
func (s *SaleService) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Bill, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)
	supplied := req.RequestID != ""
	if !supplied {
		req.RequestID = s.composer.newRef()
	}
	s.setState(req.RequestID, domain.SaleComposing)

	claimed := false
	if s.idempotency != nil && supplied {
		ok, err := s.idempotency.SetIdempotency(ctx, req.RequestID)
		if err != nil {
			s.abandon(ctx, req.RequestID, "idempotency")
			return domain.Bill{}, &domain.PersistenceError{Stage: "idempotency", Err: err}
		}
		if !ok {
			s.abandon(ctx, req.RequestID, "duplicate")
			return domain.Bill{}, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, req.RequestID)
		}
		claimed = true
	}

	bill, err := s.composer.Compose(req)
	if err != nil {
		s.abandon(ctx, req.RequestID, "validation")
		s.releaseClaim(ctx, claimed, req.RequestID)
		return domain.Bill{}, err
	}

	committed, err := s.ExecuteSale(ctx, bill)
	if err != nil {
		s.releaseClaim(ctx, claimed, req.RequestID)
		return domain.Bill{}, err
	}
	return committed, nil
}

func (s *SaleService) abandon(ctx context.Context, ref, reason string) {
	s.setState(ref, domain.SaleRolledBack)
	s.rolledBack.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *SaleService) releaseClaim(ctx context.Context, claimed bool, key string) {
	if !claimed {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.idempotency.ClearIdempotency(cctx, key); err != nil {
		s.logger.Warn("failed to release request id", zap.String("request_id", key), zap.Error(err))
	}
}

// ExecuteSale reserves stock for every line of draft, then persists the
// bill with its lines in one store transaction. On any failure every
// reservation already made is released before returning, so no partial
// stock deduction survives a failed sale.
func (s *SaleService) ExecuteSale(ctx context.Context, draft domain.Bill) (domain.Bill, error) {
	if !draft.IsDraft() {
		return domain.Bill{}, fmt.Errorf("bill %d is already committed", draft.ID)
	}

	ctx, span := s.tracer.Start(ctx, "sale.execute", trace.WithAttributes(
		attribute.String("sale.reference", draft.Reference),
		attribute.Int("sale.lines", len(draft.Items)),
	))
	defer span.End()

	log := s.logger.With(zap.String("reference", draft.Reference), zap.String("created_by", draft.CreatedBy))

	s.setState(draft.Reference, domain.SaleReservingStock)
	reserved, failures, err := s.reserveAll(ctx, draft.Items)
	if err != nil || len(failures) > 0 {
		compErr := s.compensate(ctx, log, reserved)
		s.abandon(ctx, draft.Reference, "stock")
		span.SetStatus(codes.Error, "reservation failed")

		if err != nil {
			log.Error("stock reservation aborted", zap.Error(err))
			span.RecordError(err)
			return domain.Bill{}, &domain.PersistenceError{Stage: "reserve", Err: errors.Join(err, compErr)}
		}

		stockErr := &domain.StockError{Failures: failures}
		log.Info("sale rejected for stock", zap.Strings("items", stockErr.ItemCodes()))
		if compErr != nil {
			return domain.Bill{}, errors.Join(stockErr, compErr)
		}
		return domain.Bill{}, stockErr
	}

	s.setState(draft.Reference, domain.SalePersisting)
	id, err := s.persist(ctx, draft)
	if err != nil {
		compErr := s.compensate(ctx, log, reserved)
		if errors.Is(err, domain.ErrDuplicateRequest) {
			s.abandon(ctx, draft.Reference, "duplicate")
			log.Info("sale replayed an existing bill reference")
			if compErr != nil {
				return domain.Bill{}, errors.Join(err, compErr)
			}
			return domain.Bill{}, err
		}
		s.abandon(ctx, draft.Reference, "persist")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		log.Error("bill persistence failed", zap.Error(err))
		return domain.Bill{}, &domain.PersistenceError{Stage: "persist", Err: errors.Join(err, compErr)}
	}

	bill := draft.WithID(id)
	s.setState(bill.Reference, domain.SaleCommitted)
	s.committed.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("bill.id", id))

	if s.mirror != nil {
		movements := make([]domain.StockMovement, len(bill.Items))
		for i, item := range bill.Items {
			movements[i] = domain.StockMovement{ItemCode: item.ItemCode, Delta: -item.Quantity, Source: bill.Reference}
		}
		s.mirror.Publish(movements...)
	}

	log.Info("sale committed",
		zap.Int64("bill_id", id),
		zap.String("grand_total", bill.GrandTotal.StringFixed(2)),
		zap.Int("lines", len(bill.Items)),
	)
	return bill, nil
}

// reserveAll attempts every line in order. Stock refusals are collected so
// the caller can name every short item; any other error stops immediately.
func (s *SaleService) reserveAll(ctx context.Context, items []domain.BillLineItem) ([]domain.BillLineItem, []domain.StockFailure, error) {
	ctx, span := s.tracer.Start(ctx, "sale.reserve")
	defer span.End()

	var (
		reserved []domain.BillLineItem
		failures []domain.StockFailure
	)
	for _, item := range items {
		rctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err := s.ledger.Reserve(rctx, item.ItemCode, item.Quantity)
		cancel()

		switch {
		case err == nil:
			reserved = append(reserved, item)
		case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNotFound):
			failures = append(failures, domain.StockFailure{
				ItemCode: item.ItemCode,
				ItemName: item.ItemName,
				Quantity: item.Quantity,
				Err:      err,
			})
		default:
			return reserved, failures, fmt.Errorf("reserve %s: %w", item.ItemCode, err)
		}
	}
	return reserved, failures, nil
}

func (s *SaleService) persist(ctx context.Context, draft domain.Bill) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "sale.persist")
	defer span.End()

	pctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.bills.CreateBill(pctx, draft)
}

// compensate releases reservations in reverse order. It runs detached from
// the caller's cancellation so a timed-out request is still rolled back.
func (s *SaleService) compensate(ctx context.Context, log *zap.Logger, reserved []domain.BillLineItem) error {
	if len(reserved) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "sale.compensate",
		trace.WithAttributes(attribute.Int("sale.released", len(reserved))))
	defer span.End()

	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		item := reserved[i]
		rctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err := s.ledger.Release(rctx, item.ItemCode, item.Quantity)
		cancel()

		if err != nil {
			log.Error("failed to release reserved stock",
				zap.String("item_code", item.ItemCode),
				zap.Int("qty", item.Quantity),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("release %s: %w", item.ItemCode, err))
			continue
		}
		s.compensations.Add(ctx, 1)
		log.Debug("released reserved stock", zap.String("item_code", item.ItemCode), zap.Int("qty", item.Quantity))
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation incomplete")
		return err
	}
	return nil
}

func (s *SaleService) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.bills.GetBill(ctx, id)
}
