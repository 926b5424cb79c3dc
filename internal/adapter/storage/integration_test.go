package storage_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bms360/billing-core/internal/adapter/storage"
	"github.com/bms360/billing-core/internal/core/domain"
	"github.com/bms360/billing-core/internal/core/service"
)

type testEnv struct {
	redis *storage.RedisAdapter
	mysql *storage.MySQLAdapter
	dsn   string
}

// setupTestEnv pairs a miniredis ledger with a real MySQL catalog. It skips
// when MySQL is not reachable.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/bms360?parseTime=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mysqlAdapter := storage.NewMySQLAdapter(db)
	require.NoError(t, mysqlAdapter.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &testEnv{redis: storage.NewRedisAdapter(rdb), mysql: mysqlAdapter, dsn: dsn}
}

func (e *testEnv) seedItem(t *testing.T, inventory *service.InventoryService, qty int) string {
	t.Helper()

	code := "IT-" + uuid.NewString()[:8]
	require.NoError(t, inventory.AddItem(context.Background(), domain.InventoryItem{
		ItemCode:     code,
		Name:         "Integration " + code,
		Category:     "integration",
		Quantity:     qty,
		SellingPrice: decimal.NewFromInt(50),
	}))
	t.Cleanup(func() { _ = inventory.DeleteItem(context.Background(), code) })
	return code
}

func singleUnitSale(code string) domain.SaleRequest {
	return domain.SaleRequest{
		RequestID: uuid.NewString(),
		Items: []domain.SaleLine{{
			ItemCode: code, Name: "Integration " + code, UnitPrice: decimal.NewFromInt(50), Quantity: 1,
		}},
	}
}

func TestIntegration_RedisLedgerWithMySQLCatalog(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	ledgerSync := service.NewLedgerSync(env.mysql, 100, log)
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		ledgerSync.Run(3)
	}()

	inventory := service.NewInventoryService(env.mysql, env.redis, log).WithSeparateLedger(env.redis, ledgerSync)
	code := env.seedItem(t, inventory, 10)

	svc := service.NewSaleService(env.redis, env.mysql,
		service.WithIdempotency(env.redis),
		service.WithStockMirror(ledgerSync),
		service.WithSaleLogger(log),
	)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateSale(ctx, singleUnitSale(code)); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	ledgerSync.Close()
	workers.Wait()

	assert.EqualValues(t, 10, successCount.Load())

	redisStock, err := env.redis.GetQuantity(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 0, redisStock)

	mysqlStock, err := env.mysql.GetQuantity(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 0, mysqlStock)
}

func TestIntegration_RollbackOnMySQLFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	inventory := service.NewInventoryService(env.mysql, env.redis, log).WithSeparateLedger(env.redis, nil)
	code := env.seedItem(t, inventory, 5)

	// bills go to a closed pool so every insert fails
	broken, err := sql.Open("mysql", env.dsn)
	require.NoError(t, err)
	require.NoError(t, broken.Close())

	svc := service.NewSaleService(env.redis, storage.NewMySQLAdapter(broken), service.WithSaleLogger(log))

	_, err = svc.CreateSale(ctx, singleUnitSale(code))
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)

	redisStock, err := env.redis.GetQuantity(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 5, redisStock)
}

func TestIntegration_IdempotencyPreventsDoubleBill(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	inventory := service.NewInventoryService(env.mysql, env.redis, log).WithSeparateLedger(env.redis, nil)
	code := env.seedItem(t, inventory, 10)

	svc := service.NewSaleService(env.redis, env.mysql, service.WithIdempotency(env.redis), service.WithSaleLogger(log))

	req := singleUnitSale(code)
	_, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	stock, err := env.redis.GetQuantity(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 9, stock)
}
