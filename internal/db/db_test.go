package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"runs", "run_events", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	if err := database.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNew_Pragmas(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		var got string
		if err := database.Conn().QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s error = %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %s, want %s", tt.pragma, got, tt.want)
		}
	}
}

func TestRunEvents_CascadeDelete(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	conn := database.Conn()
	if _, err := conn.Exec(`
		INSERT INTO runs (id, mode, status, stage, progress, created_at, updated_at)
		VALUES ('r1', 'inpaint', 'done', 'done', 100, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`); err != nil {
		t.Fatalf("insert run error = %v", err)
	}
	if _, err := conn.Exec(`
		INSERT INTO run_events (run_id, stage, message, created_at)
		VALUES ('r1', 'validating', 'Checking selection...', '2026-01-01T00:00:00Z')
	`); err != nil {
		t.Fatalf("insert event error = %v", err)
	}

	if _, err := conn.Exec(`
		INSERT INTO run_events (run_id, stage, message, created_at)
		VALUES ('missing', 'validating', 'orphan', '2026-01-01T00:00:00Z')
	`); err == nil {
		t.Error("event for unknown run inserted, want foreign key error")
	}

	if _, err := conn.Exec("DELETE FROM runs WHERE id = 'r1'"); err != nil {
		t.Fatalf("delete run error = %v", err)
	}
	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM run_events").Scan(&count); err != nil {
		t.Fatalf("count events error = %v", err)
	}
	if count != 0 {
		t.Errorf("events after run delete = %d, want 0", count)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedRuns(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO runs (id, mode, status, stage, progress, created_at, updated_at)
		VALUES ('run-polling', 'inpaint', 'running', 'polling', 70, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('run-done', 'inpaint', 'done', 'done', 100, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("insert run error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, stage, failedStage, errMsg string
	err = db2.Conn().QueryRow("SELECT status, stage, failed_stage, error FROM runs WHERE id = 'run-polling'").
		Scan(&status, &stage, &failedStage, &errMsg)
	if err != nil {
		t.Fatalf("query run error = %v", err)
	}

	if status != "failed" {
		t.Errorf("run status = %s, want failed", status)
	}
	if stage != "failed" || failedStage != "polling" {
		t.Errorf("stage = %s, failed_stage = %s, want failed/polling", stage, failedStage)
	}
	if errMsg != InterruptedReason {
		t.Errorf("run error = %s, want %q", errMsg, InterruptedReason)
	}

	err = db2.Conn().QueryRow("SELECT status FROM runs WHERE id = 'run-done'").Scan(&status)
	if err != nil {
		t.Fatalf("query done run error = %v", err)
	}
	if status != "done" {
		t.Errorf("finished run status = %s, want done", status)
	}
}
