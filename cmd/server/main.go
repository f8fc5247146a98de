package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/lot-allocation/internal/adapter/handler"
	"github.com/rl1809/lot-allocation/internal/adapter/messaging"
	"github.com/rl1809/lot-allocation/internal/adapter/storage"
	"github.com/rl1809/lot-allocation/internal/config"
	"github.com/rl1809/lot-allocation/internal/core/engine"
	"github.com/rl1809/lot-allocation/internal/core/service"
	"github.com/rl1809/lot-allocation/internal/logging"
	"github.com/rl1809/lot-allocation/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		log.Info("connections closed")
	}()

	// Initialize store
	db, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeDB)

	// Initialize locking and idempotency
	var (
		locker port.Locker = storage.NewMemoryLocker()
		opts   []service.Option
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		closers = append(closers, func() { rdb.Close() })
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		locker = storage.NewRedisLocker(rdb, cfg.LockTTL)
		opts = append(opts, service.WithIdempotency(storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)))
	}

	// Initialize publisher
	var publisher port.EventPublisher = messaging.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		writer := messaging.NewWriter(cfg.KafkaBrokers)
		closers = append(closers, func() { writer.Close() })
		publisher = messaging.NewKafkaPublisher(log, writer, cfg.KafkaTopic)
		log.Info("publishing allocation events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// Initialize services
	opts = append(opts, service.WithLogger(log))
	allocationService := service.NewAllocationService(db, locker, cfg.QueueSize, opts...)
	intakeService := service.NewIntakeService(db, log)
	reportService := service.NewReportService(db)

	// Start worker pool
	var wg sync.WaitGroup
	if reports := allocationService.Reports(); reports != nil {
		for i := 0; i < cfg.WorkerCount; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				workerLoop(id, reports, publisher, log)
			}(i)
		}
		log.Info("started workers", zap.Int("count", cfg.WorkerCount))
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterAllocationServiceServer(grpcServer, handler.NewGRPCHandler(allocationService, reportService, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(allocationService, intakeService, reportService, log)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
		return nil
	})
	err = g.Wait()

	// Close report queue and wait for workers
	allocationService.Close()
	wg.Wait()
	log.Info("workers stopped")

	return err
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (port.DatabaseRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to mysql")
		return adapter, func() { db.Close() }, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("connected to postgres")
		return adapter, pool.Close, nil

	default:
		log.Warn("using in-memory store, state is lost on restart")
		return storage.NewMemoryAdapter(), func() {}, nil
	}
}

func workerLoop(id int, reports <-chan *engine.Plan, publisher port.EventPublisher, log *zap.Logger) {
	for plan := range reports {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.PublishAllocation(ctx, plan); err != nil {
			log.Error("failed to publish allocation run",
				zap.Int("worker", id),
				zap.String("run_id", plan.RunID),
				zap.Error(err))
		}

		cancel()
	}
}
