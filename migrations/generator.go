package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pupsourcing/esdb/sqlfrag"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written.
	OutputFolder string

	// OutputFilename is the name of the migration file.
	OutputFilename string

	// EventsTable is the name of the queue's events table, matching
	// queue/sqlqueue.Config.Table.
	EventsTable string

	// ModelTable, if set, scaffolds a CREATE TABLE for an additional
	// JSON-document model store (see model/jsontable.Store.Migration) under
	// this name. Left empty, only the events table is emitted.
	ModelTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_esdb.sql", timestamp),
		EventsTable:    "events",
	}
}

// GenerateSQLite writes a migration file containing the queue table DDL
// (and, if config.ModelTable is set, a scaffold model table) for an
// embedded SQLite database file.
func GenerateSQLite(config *Config) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("migrations: create output folder: %w", err)
	}

	sql := generateSQLiteSQL(config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("migrations: write migration file: %w", err)
	}
	return nil
}

func generateSQLiteSQL(config *Config) string {
	eventsFrag := sqlfrag.New().
		Raw("CREATE TABLE IF NOT EXISTS ").ID(config.EventsTable).
		Raw(" (v INTEGER PRIMARY KEY, id TEXT NOT NULL, type TEXT NOT NULL, ts INTEGER NOT NULL, data TEXT NOT NULL, error TEXT, result TEXT)")
	eventsSQL, _ := eventsFrag.Build()

	out := fmt.Sprintf(`-- ESDB bootstrap migration
-- Generated: %s

-- Queue table: one row per event, versioned by v. id is a UUID correlation
-- identifier assigned at append time, independent of v.
%s;
`, time.Now().Format(time.RFC3339), eventsSQL)

	if config.ModelTable != "" {
		modelFrag := sqlfrag.New().
			Raw("CREATE TABLE IF NOT EXISTS ").ID(config.ModelTable).
			Raw(" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)")
		modelSQL, _ := modelFrag.Build()
		out += fmt.Sprintf(`
-- Scaffold for model %q: a JSON-document projection table. Register this
-- model's own *jsontable.Store.Migration() instead of hand-editing this
-- file once the model has real reducer logic behind it.
%s;
`, config.ModelTable, modelSQL)
	}

	return out
}
