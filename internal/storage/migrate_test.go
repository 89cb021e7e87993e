package storage

import (
	"path/filepath"
	"testing"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	dsn := DSN(filepath.Join(t.TempDir(), "ledger.db"))

	for i := 0; i < 2; i++ {
		v, err := RunMigrations(dsn)
		if err != nil {
			t.Fatalf("run %d: RunMigrations() error = %v", i, err)
		}
		if v != 2 {
			t.Errorf("run %d: schema version = %d, want 2", i, v)
		}
	}
}
