package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/bms360/billing-core/internal/adapter/handler"
	"github.com/bms360/billing-core/internal/adapter/storage"
	"github.com/bms360/billing-core/internal/config"
	"github.com/bms360/billing-core/internal/core/service"
	"github.com/bms360/billing-core/internal/logger"
	"github.com/bms360/billing-core/internal/port"
	"github.com/bms360/billing-core/internal/telemetry"
)

// store is what every SQL or in-memory backend provides.
type store interface {
	port.StockLedger
	port.BillRepository
	port.CatalogRepository
}

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code once every deferred cleanup has run.
func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		Production: cfg.IsProduction(),
		AppName:    cfg.AppName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	db, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	var ledger port.StockLedger = db
	saleOpts := []service.SaleOption{
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithSaleLogger(log),
	}
	inventory := service.NewInventoryService(db, db, log).WithTimeout(cfg.StoreTimeout)

	var (
		ledgerSync  *service.LedgerSync
		syncWorkers sync.WaitGroup
	)

	if mem, ok := db.(*storage.MemoryAdapter); ok {
		saleOpts = append(saleOpts, service.WithIdempotency(mem))
	}

	if cfg.StockBackend == config.StockBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb)
		ledger = redisAdapter

		// the catalog's stock column follows the Redis ledger through the sync workers
		ledgerSync = service.NewLedgerSync(db, cfg.SyncQueueSize, log)
		syncWorkers.Add(1)
		go func() {
			defer syncWorkers.Done()
			ledgerSync.Run(cfg.SyncWorkers)
		}()
		log.Info("started ledger sync workers", zap.Int("workers", cfg.SyncWorkers))

		inventory = service.NewInventoryService(db, redisAdapter, log).
			WithTimeout(cfg.StoreTimeout).
			WithSeparateLedger(redisAdapter, ledgerSync)
		seeded, err := inventory.SyncLedger(ctx)
		if err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
		log.Info("ledger seeded", zap.Int("items", seeded))

		saleOpts = append(saleOpts,
			service.WithIdempotency(redisAdapter),
			service.WithStockMirror(ledgerSync),
		)
	}

	sales := service.NewSaleService(ledger, db, saleOpts...)

	// gRPC
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(handler.JSONCodec{}))
	handler.RegisterBillingServer(grpcServer, handler.NewGRPCHandler(sales, inventory, log))

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cfg.AppName), handler.AccessLog(log))
	handler.NewHTTPHandler(sales, inventory, log).Register(router)

	httpServer := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// no sale can publish once both servers are down
	if ledgerSync != nil {
		ledgerSync.Close()
		syncWorkers.Wait()
		log.Info("ledger sync workers stopped")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store, func(), error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate mysql: %w", err)
		}
		log.Info("connected to mysql")
		return adapter, func() { _ = db.Close() }, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("connected to postgres")
		return adapter, pool.Close, nil

	default:
		log.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryAdapter(), func() {}, nil
	}
}
