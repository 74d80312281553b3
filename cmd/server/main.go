package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/subx-ng/subx-core/internal/config"
	"github.com/subx-ng/subx-core/internal/database"
	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/handler"
	"github.com/subx-ng/subx-core/internal/legacy"
	"github.com/subx-ng/subx-core/internal/logger"
	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/payment"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/queue"
	"github.com/subx-ng/subx-core/internal/router"
	"github.com/subx-ng/subx-core/internal/service"
)

func main() {
	cfg := config.Load()
	lg := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.IsDev()})

	db, err := database.Open(context.Background(), database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass,
		Host: cfg.DBHost, Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		lg.Warn("redis unavailable; rate limiting, response cache and availability cache run without it")
	} else {
		defer rdb.Close()
	}

	store, err := document.OpenFileStore(cfg.DocumentsDir)
	if err != nil {
		log.Fatalf("documents: %v", err)
	}
	defer store.Close()
	docs := document.NewLibrary(document.NewPDFGenerator("Subx"), store, lg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	naming := plotkey.Default()
	resolver := legacy.Default(naming)
	stores := service.NewStores(db)
	publisher := queue.NewPublisher(cfg.AMQPURL, lg)

	inventory := service.NewInventoryService(stores, naming, resolver, service.InventoryOptions{
		Cache:   service.NewAvailabilityCache(rdb, cfg.Cache.Prefix+":availability"),
		Metrics: m,
		Logger:  lg,
	})
	portfolio := service.NewPortfolioService(stores, naming, resolver, service.PortfolioOptions{
		DefaultPlotSize: cfg.DefaultPlotSize,
		Currency:        cfg.Currency,
		Metrics:         m,
		Logger:          lg,
	})
	purchases := service.NewPurchaseService(stores, inventory, naming, payment.NewPaystack(cfg.Paystack), service.PurchaseOptions{
		Currency: cfg.Currency,
		HoldTTL:  cfg.HoldTTL,
		Notifier: publisher,
		Metrics:  m,
		Logger:   lg,
	})

	e := router.New(router.Handlers{
		Plots:     &handler.PlotHandler{Inventory: inventory, Log: lg},
		Portfolio: &handler.PortfolioHandler{Portfolio: portfolio, Documents: docs, Log: lg},
		Purchases: &handler.PurchaseHandler{Purchases: purchases, Log: lg},
		Webhooks:  &handler.WebhookHandler{Purchases: purchases, Log: lg},
		Admin:     &handler.AdminHandler{Inventory: inventory, Portfolio: portfolio, Purchases: purchases, Log: lg},
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     cfg.Cache,
		RateLimit: cfg.RateLimit,
		DB:        db,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:    lg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	logDir := filepath.Join(".", "logs")
	g.Go(func() error {
		return ignoreCancel(queue.NewConsumer(cfg.AMQPURL, queue.PurchaseConfirmedQueue,
			queue.ConfirmedHandler(logDir, docs, lg), lg).Run(ctx))
	})
	g.Go(func() error {
		return ignoreCancel(queue.NewConsumer(cfg.AMQPURL, queue.OversellDetectedQueue,
			queue.OversellHandler(logDir, lg), lg).Run(ctx))
	})
	g.Go(func() error {
		return ignoreCancel(purchases.RunSweeper(ctx, cfg.HoldSweepInterval))
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		lg.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdown)
	})

	if err := g.Wait(); err != nil {
		lg.Error("server stopped", "err", err)
		os.Exit(1)
	}
	lg.Info("server stopped")
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
