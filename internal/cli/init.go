// Package cli holds the start-up and shutdown steps shared by the
// ledger-api, scheduler and ledger-mirror binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"splitledger/internal/config"
	applog "splitledger/internal/log"
)

type logSettings struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// SetupLogger installs the process logger from LOG_LEVEL and LOG_FORMAT.
// An unknown level falls back to info with a warning.
func SetupLogger(component string) *applog.Logger {
	var s logSettings
	parseErr := env.Parse(&s)

	level, levelErr := applog.ParseLevel(s.Level)
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    s.Format,
		Component: component,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)

	if parseErr != nil {
		logger.Warn("Failed to read logging settings", applog.FieldError, parseErr)
	}
	if levelErr != nil {
		logger.Warn("Unknown log level, using info", applog.FieldError, levelErr)
	}
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads the configuration or exits the process.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Configuration validation failed",
			applog.FieldOperation, applog.OpValidate,
			applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// LoadConfig parses and validates the environment configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received",
				applog.FieldOperation, applog.OpShutdown,
				"signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown runs the cleanup steps in order under one deadline and joins
// their errors.
func Shutdown(logger *applog.Logger, timeout time.Duration, steps ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var failed []error
	for i, step := range steps {
		if step == nil {
			continue
		}
		if err := step(ctx); err != nil {
			logger.Error("Shutdown step failed",
				applog.FieldOperation, applog.OpShutdown,
				"step", i,
				applog.FieldError, err)
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(failed...))
	}
	logger.Info("Shutdown complete")
	return nil
}

// CloseStep adapts a Close method to a shutdown step.
func CloseStep(name string, closeFn func() error) func(context.Context) error {
	return func(context.Context) error {
		if err := closeFn(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		slog.Debug("Closed resource", "resource", name)
		return nil
	}
}
