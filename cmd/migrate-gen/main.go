// Command migrate-gen writes a bootstrap SQL migration file for a new ESDB
// database file: the queue table, and optionally a scaffold table for a
// newly registered model.
//
// Usage:
//
//	go run github.com/pupsourcing/esdb/cmd/migrate-gen -output migrations
//	go run github.com/pupsourcing/esdb/cmd/migrate-gen -output migrations -model widgets
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pupsourcing/esdb/migrations"
)

func main() {
	var (
		outputFolder   = flag.String("output", "migrations", "Output folder for the migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		eventsTable    = flag.String("events-table", "events", "Name of the queue's events table")
		modelTable     = flag.String("model", "", "If set, also scaffold a JSON-document table for this model")
	)
	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.EventsTable = *eventsTable
	config.ModelTable = *modelTable
	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.GenerateSQLite(&config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated migration: %s/%s\n", config.OutputFolder, config.OutputFilename)
}
