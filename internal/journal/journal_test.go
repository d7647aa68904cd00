package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"custdoc/internal/config"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	for _, table := range []string{"operations", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckMigrations(t *testing.T) {
	db := openTestDB(t)

	if err := CheckMigrations(db); err == nil {
		t.Fatal("CheckMigrations() expected error for fresh database")
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp() error = %v (should be idempotent)", err)
	}
	if err := CheckMigrations(db); err != nil {
		t.Errorf("CheckMigrations() after migration error = %v", err)
	}
}

func TestSQLiteJournal_Operations(t *testing.T) {
	j, err := NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	defer j.Close()

	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	op1, err := j.CreateOperation("customer add", `["Zoë"]`, "", start)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := j.FinishOperation(op1.ID, "success", "abc123", "", start.Add(time.Second)); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	op2, err := j.CreateOperation("doc add", `["c1","Contract"]`, "abc123", start.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if op2.ID <= op1.ID {
		t.Errorf("op2.ID = %d, want > %d", op2.ID, op1.ID)
	}

	ops, err := j.RecentOperations(10)
	if err != nil {
		t.Fatalf("RecentOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}

	newest, oldest := ops[0], ops[1]
	if newest.ID != op2.ID {
		t.Errorf("newest.ID = %d, want %d", newest.ID, op2.ID)
	}
	if newest.Status != "running" || newest.FinishedAt != nil {
		t.Errorf("unfinished op = status %q finished %v", newest.Status, newest.FinishedAt)
	}
	if oldest.Status != "success" || oldest.VersionAfter != "abc123" {
		t.Errorf("finished op = status %q version %q", oldest.Status, oldest.VersionAfter)
	}
	if oldest.FinishedAt == nil || !oldest.FinishedAt.Equal(start.Add(time.Second)) {
		t.Errorf("FinishedAt = %v, want %v", oldest.FinishedAt, start.Add(time.Second))
	}
	if !oldest.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", oldest.StartedAt, start)
	}
	if oldest.Parameters != `["Zoë"]` {
		t.Errorf("Parameters = %q", oldest.Parameters)
	}

	limited, err := j.RecentOperations(1)
	if err != nil {
		t.Fatalf("RecentOperations(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(RecentOperations(1)) = %d, want 1", len(limited))
	}
}

func TestSQLiteJournal_FinishUnknown(t *testing.T) {
	j, err := NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	defer j.Close()

	if err := j.FinishOperation(42, "success", "", "", time.Now()); err == nil {
		t.Error("FinishOperation() expected error for unknown id")
	}
}

func TestSQLiteJournal_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	if _, err := j.CreateOperation("init", "", "", time.Now()); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	j.Close()

	j2, err := NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j2.Close()
	if err := CheckMigrations(j2.db); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	ops, err := j2.RecentOperations(0)
	if err != nil {
		t.Fatalf("RecentOperations() error = %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("len(ops) = %d, want 1", len(ops))
	}
}

func TestNewSQLiteJournal_RejectsDirtySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error = %v", err)
	}
	if _, err := j.db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatal(err)
	}
	j.Close()

	if _, err := NewSQLiteJournal(path); err == nil {
		t.Fatal("NewSQLiteJournal() expected error for dirty schema")
	}
}

func TestNewJournalFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.JournalConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.JournalConfig{Type: "memory"}},
		{name: "sqlite", cfg: config.JournalConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "journal")}},
		{name: "sqlite without dir", cfg: config.JournalConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown", cfg: config.JournalConfig{Type: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := NewJournalFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewJournalFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if j != nil {
				j.Close()
			}
		})
	}
}
