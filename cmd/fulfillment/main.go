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
	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
	"github.com/ariefcatur/go-fulfillment-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-fulfillment-orders/internal/kafka"
	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
	"github.com/ariefcatur/go-fulfillment-orders/internal/memory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/metrics"
	"github.com/ariefcatur/go-fulfillment-orders/internal/postgres"
	"github.com/ariefcatur/go-fulfillment-orders/internal/redisx"
	"github.com/ariefcatur/go-fulfillment-orders/internal/telemetry"
)

var version = "dev"

type workerStore interface {
	fulfillment.Store
	SeedWorkers(ctx context.Context, n int) (bool, error)
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load("fulfillment")
	if os.Getenv("HTTP_ADDR") == "" {
		cfg.HTTPAddr = ":8082"
	}
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

	// Store
	var store workerStore
	switch cfg.StoreDriver {
	case config.StoreMemory:
		store = memory.NewFulfillment()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		store = &fulfillment.PGStore{DB: db}
	}
	if seeded, err := store.SeedWorkers(ctx, cfg.WorkerCount); err != nil {
		log.Fatal("seed workers", zap.Error(err))
	} else if seeded {
		log.Info("workers seeded", zap.Int("count", cfg.WorkerCount))
	}

	// Kafka: status changes out, task requests in
	prod := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicTaskStatus, 1024, log)
	prod.Start(context.WithoutCancel(ctx))

	sched := fulfillment.NewScheduler(store, fulfillment.Options{
		Ring:     fulfillment.Ring{Size: cfg.WorkerCount, Capacity: cfg.WorkerCapacity},
		Notifier: &events.StatusNotifier{Producer: prod, Service: cfg.ServiceName},
		Logger:   log,
		Metrics:  m,
	})

	// The lease only matters with a shared store and several replicas.
	var lease fulfillment.Lease
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if cfg.SweepLease && cfg.StoreDriver == config.StorePostgres {
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, sweeping without a lease", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			lease = redisx.NewSweepLease(rdb)
		}
	}
	sweeper := fulfillment.NewSweeper(sched, cfg.SweepInterval, lease, log, m)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, events.TopicTaskRequested, cfg.ConsumerWorkers, log)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("task request consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.String("topic", events.TopicTaskRequested),
			zap.Int("workers", cfg.ConsumerWorkers),
		)
		if err := cons.Start(ctx, events.HandleTaskRequested(sched, log)); err != nil {
			log.Error("task request consumer exited", zap.Error(err))
			stop()
		}
	}()

	// HTTP
	router := httpx.NewRouter(log, m, reg)
	(&httpx.FulfillmentHandler{Scheduler: sched, Sweeper: sweeper}).Register(router)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.Int("workers", cfg.WorkerCount),
			zap.Int("capacity", cfg.WorkerCapacity),
			zap.Duration("sweep_interval", cfg.SweepInterval),
		)
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
	<-sweepDone
	sched.Wait()
	prod.Close()
	prod.WaitClosed()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}
