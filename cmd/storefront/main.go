package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/backend"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/cache"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/config"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/consumer"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/events"
	h "github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/http"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/poller"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/publisher"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()
	zap.ReplaceGlobals(zlog)
	zlog = zlog.With(zap.String("instance_id", cfg.InstanceID))

	ctx := context.Background()
	var wg sync.WaitGroup

	// Durable cart storage
	var storage cache.StateStorage
	switch cfg.CartStore {
	case config.CartStoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("failed to connect to Redis", zap.Error(err))
		}
		storage = cache.NewRedisStorage(rdb, cfg.CartTTL)
		zlog.Info("cart storage ready", zap.String("store", "redis"), zap.String("addr", cfg.RedisAddr))
	case config.CartStoreMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoTimeout)
		if err != nil {
			zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer db.Client().Disconnect(context.Background())
		repo := repository.NewMongoStateRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			zlog.Fatal("failed to create indexes", zap.Error(err))
		}
		storage = repo
		zlog.Info("cart storage ready", zap.String("store", "mongo"), zap.String("database", cfg.MongoDB))
	default:
		zlog.Warn("cart storage disabled, carts live in memory only")
	}

	// Order ledger
	ledger, err := repository.NewLedger(&cfg.LedgerCred)
	if err != nil {
		zlog.Fatal("failed to open order ledger", zap.Error(err))
	}
	defer ledger.Close()
	if err := ledger.RunMigrations(&cfg.LedgerCred); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}
	zlog.Info("ledger migrations completed", zap.String("driver", cfg.LedgerCred.Driver))

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	}, zlog)

	bus := events.NewBus(cfg.InstanceID)

	registry := session.NewRegistry(session.Deps{
		Storage: storage,
		Orders:  client,
		Checker: client,
		Ledger:  ledger,
		Bus:     bus,
	}, session.Config{
		IdleTTL: cfg.SessionIdleTTL,
		Poller: poller.Config{
			BaseInterval:   cfg.PollBaseInterval,
			MaxAttempts:    cfg.PollMaxAttempts,
			RequestTimeout: cfg.PollRequestTimeout,
		},
	}, zlog)

	resumed, err := registry.Resume(ctx)
	if err != nil {
		zlog.Error("failed to resume payment reconciliation", zap.Error(err))
	} else if resumed > 0 {
		zlog.Info("resumed payment reconciliation", zap.Int("orders", resumed))
	}

	// Cross-instance order events
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var (
		orderPublisher *publisher.OrderEventPublisher
		orderConsumer  *consumer.Consumer
		unsubscribe    func()
	)
	if len(cfg.KafkaBrokers) > 0 {
		orderPublisher = publisher.NewOrderEventPublisher(
			publisher.NewKafkaWriter(cfg.KafkaBrokers...), cfg.InstanceID, cfg.EventBufferSize, zlog)
		unsubscribe = bus.Subscribe(orderPublisher.Handle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			orderPublisher.Run(workerCtx)
		}()

		reader := consumer.NewKafkaReader("storefront-"+cfg.InstanceID, cfg.KafkaBrokers...)
		orderConsumer = consumer.NewConsumer(reader, storage, bus, zlog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			orderConsumer.Run(workerCtx)
		}()
		zlog.Info("kafka fan-out enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	router := h.NewRouter(registry, h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, zlog)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("storefront starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down storefront...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// Pollers stop before the ledger closes.
	if err := registry.Close(); err != nil {
		zlog.Error("failed to close session registry", zap.Error(err))
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	workerCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		zlog.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		zlog.Warn("workers didn't stop in time")
	}

	if orderConsumer != nil {
		orderConsumer.Close()
	}
	if orderPublisher != nil {
		if err := orderPublisher.Close(); err != nil {
			zlog.Error("failed to close kafka writer", zap.Error(err))
		}
	}
	zlog.Info("storefront stopped")
}
