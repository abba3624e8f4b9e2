package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://kairos:hunter2@db:5432/kairos")
	if got != "postgres://kairos:****@db:5432/kairos" {
		t.Fatalf("expected password masked, got %s", got)
	}
	if got := maskDatabaseURL("sqlite://kairos.db"); got != "sqlite://kairos.db" {
		t.Fatalf("expected sqlite url untouched, got %s", got)
	}
}

func TestDisplayValueMasksSecrets(t *testing.T) {
	if got := displayValue("GOOGLE_API_KEY", "AIzaSyExampleKey1234"); got != "AIza****1234" {
		t.Fatalf("expected masked key, got %s", got)
	}
	if got := displayValue("JWT_SECRET", "short"); got != "****" {
		t.Fatalf("expected fully masked short secret, got %s", got)
	}
	if got := displayValue("LLM_MODEL", "gemini-2.5-flash"); got != "gemini-2.5-flash" {
		t.Fatalf("expected plain value, got %s", got)
	}
}

func TestFindMigrationFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, err := findMigrationFiles(dir, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "001_a.sql" {
		t.Fatalf("expected sorted sql files, got %v", files)
	}
	if _, err := findMigrationFiles(dir, "missing.sql"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "schema", "validate", "daily-insights", "backfill-memories", "memory-stats", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected command %s, got %v", name, err)
		}
	}
}
