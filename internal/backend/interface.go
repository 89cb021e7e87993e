// Package backend builds the storage, event bus, alerting and mirror
// implementations selected by configuration.
package backend

import (
	"context"

	"splitledger/internal/events"
	"splitledger/internal/notify"
	"splitledger/internal/sheets"
	"splitledger/internal/storage"
)

type CleanupFunc func() error

// StoreResult contains the store and the function releasing it.
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)
	// CreatePublisher returns events.Nop when events are disabled.
	CreatePublisher(config Config) (events.Publisher, error)
	// CreateAlerter always includes the log alerter.
	CreateAlerter(config Config, publisher events.Publisher) notify.Alerter
	// CreateMirrorWriter falls back to an in-memory sink when no
	// spreadsheet is configured.
	CreateMirrorWriter(ctx context.Context, config Config) (sheets.AuditWriter, error)
}

type Config struct {
	Type BackendType

	SQLiteDBPath string

	Events       EventsType
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	KafkaBrokers []string
	KafkaTopic   string

	SMTP notify.SMTPConfig

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// EventsType selects the event bus.
type EventsType string

const (
	EventsNone  EventsType = "none"
	EventsAMQP  EventsType = "amqp"
	EventsKafka EventsType = "kafka"
)

func (et EventsType) IsValid() bool {
	switch et {
	case EventsNone, EventsAMQP, EventsKafka:
		return true
	default:
		return false
	}
}
