package main

import (
	"os"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/cli"
	applog "splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentScheduler)
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

	// The ledger service announces committed entries; closing it releases
	// the publisher and the store.
	ledger := services.NewLedgerService(store, publisher, cfg.DefaultCurrency)
	executor := services.NewExecutor(store, factory.CreateAlerter(backendCfg, publisher), services.ExecutorConfig{
		Concurrency: cfg.SchedulerConcurrency,
		BatchSize:   cfg.SchedulerBatchSize,
		MaxCatchUp:  cfg.SchedulerMaxCatchUp,
		Timeout:     cfg.ExecutionTimeout,
	}).WithObserver(ledger).WithPublisher(publisher)

	scheduler := worker.NewScheduler(executor, cfg.SchedulerCron)
	logger.Info("Starting scheduler",
		"schedule", cfg.SchedulerCron,
		"concurrency", cfg.SchedulerConcurrency,
		"batch_size", cfg.SchedulerBatchSize,
		"backend", backendCfg.Type)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", applog.FieldError, err)
		_ = ledger.Close()
		os.Exit(1)
	}

	<-ctx.Done()

	exitCode := 0
	if err := cli.Shutdown(logger, 30*time.Second,
		scheduler.Stop,
		cli.CloseStep("ledger", ledger.Close),
	); err != nil {
		exitCode = 1
	}
	os.Exit(exitCode)
}
