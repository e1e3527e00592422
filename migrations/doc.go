// Package migrations generates the bootstrap SQL a new database file needs:
// the queue table's DDL plus a scaffold table for a newly registered model.
//
// To generate a migration file, use the migrate-gen command:
//
//	go run github.com/pupsourcing/esdb/cmd/migrate-gen -output migrations
//
// Or add a go generate directive:
//
//	//go:generate go run github.com/pupsourcing/esdb/cmd/migrate-gen -output ../../migrations
package migrations
