package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/cache"
	"splitledger/internal/cli"
	"splitledger/internal/core"
	apphttp "splitledger/internal/http"
	applog "splitledger/internal/log"
	"splitledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)

	storeResult, err := factory.CreateStore(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create store", applog.FieldError, err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	store := storeResult.Store

	publisher, err := factory.CreatePublisher(backendCfg)
	if err != nil {
		logger.Error("Failed to create event publisher", applog.FieldError, err, "events", backendCfg.Events)
		_ = storeResult.Cleanup()
		os.Exit(1)
	}

	entryCache := cache.NewLRUCache[[]core.LedgerEntry](cfg.BalanceCacheSize, cfg.BalanceCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(entryCache)
	cacheManager.StartCleanup(cfg.BalanceCacheTTL)

	// Closing the ledger service releases the publisher and the store.
	ledger := services.NewLedgerService(store, publisher, cfg.DefaultCurrency).WithCache(entryCache)
	executor := services.NewExecutor(store, factory.CreateAlerter(backendCfg, publisher), services.ExecutorConfig{
		Concurrency: cfg.SchedulerConcurrency,
		BatchSize:   cfg.SchedulerBatchSize,
		MaxCatchUp:  cfg.SchedulerMaxCatchUp,
		Timeout:     cfg.ExecutionTimeout,
	}).WithObserver(ledger).WithPublisher(publisher)

	var ready func(context.Context) error
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		ready = p.Ping
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Ledger:  ledger,
		Actions: services.NewRegistry(store),
		History: services.NewHistoryReader(store, store),
		Runner:  executor,
		Ready:   ready,
		Logger:  logger,
	}, apphttp.Options{})
	if err != nil {
		logger.Error("Failed to create HTTP server", applog.FieldError, err)
		_ = ledger.Close()
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ledger API",
			"port", cfg.Port,
			"backend", backendCfg.Type,
			"events", backendCfg.Events)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
			exitCode = 1
		}
	}

	if err := cli.Shutdown(logger, 30*time.Second,
		srv.Shutdown,
		func(context.Context) error { cacheManager.Stop(); return nil },
		cli.CloseStep("ledger", ledger.Close),
	); err != nil {
		exitCode = 1
	}
	cancel()
	os.Exit(exitCode)
}
