package main

import (
	"context"
	"errors"
	"os"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/cli"
	applog "splitledger/internal/log"
	"splitledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentMirror)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	if backendCfg.Events != backend.EventsAMQP {
		logger.Error("Ledger mirror consumes AMQP events; set EVENTS_BACKEND=amqp", "events", backendCfg.Events)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)

	writer, err := factory.CreateMirrorWriter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create mirror writer", applog.FieldError, err)
		os.Exit(1)
	}

	client, err := factory.CreateAMQPClient(backendCfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	mirror := worker.NewMirrorWorker(writer)
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- client.ConsumeEvents(ctx, mirror.HandleEvent)
	}()
	logger.Info("Ledger mirror started",
		"queue", backendCfg.AMQPQueue,
		"spreadsheet_configured", backendCfg.GoogleSpreadsheetID != "")

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
			exitCode = 1
		}
	}
	cancel()

	if err := cli.Shutdown(logger, 10*time.Second,
		cli.CloseStep("amqp", client.Close),
	); err != nil {
		exitCode = 1
	}
	os.Exit(exitCode)
}
