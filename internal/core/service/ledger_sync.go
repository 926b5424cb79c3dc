package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bms360/billing-core/internal/core/domain"
	"github.com/bms360/billing-core/internal/port"
)

// LedgerSync copies stock movements from the authoritative ledger (Redis)
// onto the SQL catalog's stock column through a queue and a worker pool, so
// catalog listings follow committed sales and restocks.
type LedgerSync struct {
	target  port.StockLedger
	queue   chan domain.StockMovement
	timeout time.Duration
	logger  *zap.Logger
}

func NewLedgerSync(target port.StockLedger, queueSize int, logger *zap.Logger) *LedgerSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerSync{
		target:  target,
		queue:   make(chan domain.StockMovement, queueSize),
		timeout: defaultStoreTimeout,
		logger:  logger,
	}
}

// Publish enqueues movements, blocking while the queue is full. It must not
// be called after Close.
func (l *LedgerSync) Publish(movements ...domain.StockMovement) {
	for _, m := range movements {
		if m.Delta == 0 {
			continue
		}
		l.queue <- m
	}
}

// Run starts workerCount workers and blocks until the queue is closed and
// drained.
func (l *LedgerSync) Run(workerCount int) {
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.workerLoop(id)
		}(i)
	}
	wg.Wait()
}

func (l *LedgerSync) workerLoop(id int) {
	for m := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.apply(ctx, m)
		cancel()

		log := l.logger.With(
			zap.Int("worker", id),
			zap.String("item_code", m.ItemCode),
			zap.Int("delta", m.Delta),
			zap.String("source", m.Source),
		)
		switch {
		case err == nil:
			log.Debug("ledger movement applied")
		case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNotFound):
			log.Warn("catalog stock drifted from ledger", zap.Error(err))
		default:
			log.Error("failed to apply ledger movement", zap.Error(err))
		}
	}
}

func (l *LedgerSync) apply(ctx context.Context, m domain.StockMovement) error {
	if m.Delta < 0 {
		return l.target.Reserve(ctx, m.ItemCode, -m.Delta)
	}
	return l.target.Release(ctx, m.ItemCode, m.Delta)
}

func (l *LedgerSync) Close() {
	close(l.queue)
}
