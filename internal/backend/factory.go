package backend

import (
	"context"
	"fmt"
	"log/slog"

	"splitledger/internal/amqp"
	"splitledger/internal/events"
	"splitledger/internal/events/kafka"
	applog "splitledger/internal/log"
	"splitledger/internal/notify"
	"splitledger/internal/sheets"
	gsheet "splitledger/internal/sheets/google"
	sheetsmemory "splitledger/internal/sheets/memory"
	"splitledger/internal/storage"
	"splitledger/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

var _ Factory = (*DefaultFactory)(nil)

func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("ping SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend",
			applog.FieldComponent, applog.ComponentStorage,
			"db_path", config.SQLiteDBPath)
		return &StoreResult{Store: repo, Cleanup: repo.Close}, nil

	case MemoryBackend:
		store := memory.New()
		f.logger.Warn("Initialized memory backend; data is lost on exit and not shared between processes",
			applog.FieldComponent, applog.ComponentStorage)
		return &StoreResult{Store: store, Cleanup: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) CreatePublisher(config Config) (events.Publisher, error) {
	switch config.Events {
	case "", EventsNone:
		return events.Nop{}, nil

	case EventsAMQP:
		client, err := f.CreateAMQPClient(config)
		if err != nil {
			return nil, err
		}
		return client, nil

	case EventsKafka:
		f.logger.Info("Initialized Kafka publisher",
			applog.FieldComponent, applog.ComponentKafka,
			"brokers", config.KafkaBrokers,
			"topic", config.KafkaTopic)
		return kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic), nil

	default:
		return nil, fmt.Errorf("unsupported events backend: %s", config.Events)
	}
}

// CreateAMQPClient connects to the broker; the mirror consumes through it.
func (f *DefaultFactory) CreateAMQPClient(config Config) (*amqp.Client, error) {
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}
	f.logger.Info("Initialized AMQP client",
		applog.FieldComponent, applog.ComponentAMQP,
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, nil
}

func (f *DefaultFactory) CreateAlerter(config Config, publisher events.Publisher) notify.Alerter {
	alerters := notify.Multi{notify.LogAlerter{}}
	if config.EmailAlertsEnabled() {
		alerters = append(alerters, notify.NewEmailAlerter(config.SMTP))
		f.logger.Info("Email alerts enabled",
			applog.FieldComponent, applog.ComponentAlert,
			"recipients", len(config.SMTP.To))
	}
	if publisher != nil {
		if _, nop := publisher.(events.Nop); !nop {
			alerters = append(alerters, notify.EventAlerter{Publisher: publisher})
		}
	}
	return alerters
}

func (f *DefaultFactory) CreateMirrorWriter(ctx context.Context, config Config) (sheets.AuditWriter, error) {
	if config.GoogleSpreadsheetID == "" {
		f.logger.Warn("No spreadsheet configured, mirroring to memory",
			applog.FieldComponent, applog.ComponentMirror)
		return sheetsmemory.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		SheetName:          config.GoogleSheetName,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets mirror",
		applog.FieldComponent, applog.ComponentMirror,
		"spreadsheet_id", config.GoogleSpreadsheetID)
	return client, nil
}
