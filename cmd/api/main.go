package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/config"
	"github.com/ariefcatur/go-fulfillment-orders/internal/events"
	"github.com/ariefcatur/go-fulfillment-orders/internal/httpx"
	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-fulfillment-orders/internal/kafka"
	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
	"github.com/ariefcatur/go-fulfillment-orders/internal/memory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/metrics"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
	"github.com/ariefcatur/go-fulfillment-orders/internal/postgres"
	"github.com/ariefcatur/go-fulfillment-orders/internal/redisx"
	"github.com/ariefcatur/go-fulfillment-orders/internal/telemetry"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.Load("order-api")
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}

	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel, cfg.OTLPEndpoint != "")
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Stores
	var (
		store   orders.Store
		catalog inventory.Catalog
		seeder  interface {
			SeedDefaults(context.Context) (bool, error)
		}
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		inv := memory.NewInventory()
		store, catalog, seeder = memory.NewOrders(inv), inv, inv
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		inv := &inventory.Repo{DB: db}
		store, catalog, seeder = &orders.Repo{DB: db}, inv, inv
	}
	if seeded, err := seeder.SeedDefaults(ctx); err != nil {
		log.Fatal("seed inventory", zap.Error(err))
	} else if seeded {
		log.Info("inventory seeded", zap.Ints("stock", inventory.DefaultStock))
	}

	// Redis is a shortcut only; without it reads go to the store.
	opts := orders.Options{Logger: log, Metrics: m}
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, caches disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		opts.Idempotency = &redisx.IdempotencyCache{RDB: rdb}
		opts.Cache = &redisx.OrderCache{RDB: rdb}
	}

	// Kafka: task requests out, task status back in
	prod := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicTaskRequested, 1024, log)
	prod.Start(context.WithoutCancel(ctx))
	opts.Fulfillment = &events.TaskRequester{Producer: prod, Service: cfg.ServiceName}

	svc := orders.NewService(store, opts)

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, events.TopicTaskStatus, cfg.ConsumerWorkers, log)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("status consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.String("topic", events.TopicTaskStatus),
			zap.Int("workers", cfg.ConsumerWorkers),
		)
		if err := cons.Start(ctx, events.HandleTaskStatus(svc, log)); err != nil {
			log.Error("status consumer exited", zap.Error(err))
			stop()
		}
	}()

	// HTTP
	router := httpx.NewRouter(log, m, reg)
	(&httpx.OrdersHandler{Orders: svc, Inventory: catalog}).Register(router)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-consumerDone
	svc.Wait()        // pending task requests reach the inbox
	prod.Close()      // flush inbox and close writer
	prod.WaitClosed() // drain
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}
