package backend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"splitledger/internal/config"
	"splitledger/internal/core"
	"splitledger/internal/events"
	"splitledger/internal/events/kafka"
	"splitledger/internal/notify"
	sheetsmemory "splitledger/internal/sheets/memory"
)

func quietFactory() *DefaultFactory {
	return NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"unknown type", Config{Type: "sheets"}, true},
		{"unknown events", Config{Type: MemoryBackend, Events: "nats"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, Events: EventsAMQP, AMQPURL: "amqp://x", AMQPExchange: "e"}, true},
		{"kafka", Config{Type: MemoryBackend, Events: EventsKafka, KafkaBrokers: []string{"k:9092"}, KafkaTopic: "t"}, false},
		{"kafka without brokers", Config{Type: MemoryBackend, Events: EventsKafka, KafkaTopic: "t"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	app := &config.Config{
		DataBackend:   "memory",
		EventsBackend: "none",
		AlertEmailTo:  []string{"ops@example.com"},
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		SMTPFrom:      "ledger@example.com",
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != MemoryBackend || !cfg.EmailAlertsEnabled() || cfg.SMTP.To[0] != "ops@example.com" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestFactory_CreateStore(t *testing.T) {
	ctx := context.Background()
	f := quietFactory()

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateStore(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateStore: %v", err)
			}
			defer res.Cleanup()

			b := core.Budget{ID: "b1", GroupID: "g1", Name: "Home"}
			if err := res.Store.CreateBudget(ctx, b); err != nil {
				t.Fatalf("CreateBudget: %v", err)
			}
			got, err := res.Store.GetBudget(ctx, "b1")
			if err != nil || got.Name != "Home" {
				t.Errorf("GetBudget = %+v, %v", got, err)
			}
		})
	}

	if _, err := f.CreateStore(ctx, Config{Type: "nope"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestFactory_CreatePublisherAndAlerter(t *testing.T) {
	f := quietFactory()

	pub, err := f.CreatePublisher(Config{Events: EventsNone})
	if err != nil {
		t.Fatalf("CreatePublisher: %v", err)
	}
	if _, ok := pub.(events.Nop); !ok {
		t.Errorf("publisher = %T, want events.Nop", pub)
	}
	alerter := f.CreateAlerter(Config{}, pub).(notify.Multi)
	if len(alerter) != 1 {
		t.Errorf("alerters = %d, want log only", len(alerter))
	}

	kp, err := f.CreatePublisher(Config{Events: EventsKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "ledger-events"})
	if err != nil {
		t.Fatalf("CreatePublisher kafka: %v", err)
	}
	defer kp.Close()
	if _, ok := kp.(*kafka.Publisher); !ok {
		t.Errorf("publisher = %T, want *kafka.Publisher", kp)
	}

	withMail := Config{SMTP: notify.SMTPConfig{Host: "smtp", Port: 25, From: "a@b", To: []string{"c@d"}}}
	alerter = f.CreateAlerter(withMail, kp).(notify.Multi)
	if len(alerter) != 3 {
		t.Errorf("alerters = %d, want log, email and event", len(alerter))
	}
}

func TestFactory_CreateMirrorWriter(t *testing.T) {
	f := quietFactory()
	w, err := f.CreateMirrorWriter(context.Background(), Config{})
	if err != nil {
		t.Fatalf("CreateMirrorWriter: %v", err)
	}
	if _, ok := w.(*sheetsmemory.Store); !ok {
		t.Errorf("writer = %T, want memory sink", w)
	}
}
