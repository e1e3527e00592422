package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateSQLiteEventsTable(t *testing.T) {
	tmpDir := t.TempDir()
	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test_migration.sql",
		EventsTable:    "events",
	}

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	sql := string(content)

	required := []string{
		`CREATE TABLE IF NOT EXISTS "events"`,
		"v INTEGER PRIMARY KEY",
		"id TEXT NOT NULL",
		"type TEXT NOT NULL",
		"ts INTEGER NOT NULL",
		"data TEXT NOT NULL",
	}
	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("generated SQL missing %q:\n%s", r, sql)
		}
	}
	if strings.Contains(sql, "doc TEXT NOT NULL") {
		t.Error("expected no scaffold model table when ModelTable is unset")
	}
}

func TestGenerateSQLiteWithModelTable(t *testing.T) {
	tmpDir := t.TempDir()
	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test_migration.sql",
		EventsTable:    "events",
		ModelTable:     "widgets",
	}

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	sql := string(content)

	if !strings.Contains(sql, `CREATE TABLE IF NOT EXISTS "widgets"`) {
		t.Errorf("expected scaffold table for widgets, got:\n%s", sql)
	}
	if !strings.Contains(sql, "doc TEXT NOT NULL") {
		t.Errorf("expected jsontable-shaped doc column, got:\n%s", sql)
	}
}
