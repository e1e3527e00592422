// Command esdbctl inspects an ESDB database file: the applied version, the
// queue's latest version, and the contents of a single event.
//
// Usage:
//
//	go run github.com/pupsourcing/esdb/cmd/esdbctl -db events.db status
//	go run github.com/pupsourcing/esdb/cmd/esdbctl -db events.db show -v 42
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pupsourcing/esdb/model/jsontable"
	"github.com/pupsourcing/esdb/queue/sqlqueue"
	"github.com/pupsourcing/esdb/sqldb"
)

func main() {
	var (
		dbFile = flag.String("db", "", "Path to the database file (required)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -db <file> <status|show> [-v version]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dbFile == "" || flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cmd := flag.Arg(0)
	rest := flag.NewFlagSet(cmd, flag.ExitOnError)
	version := rest.Uint64("v", 0, "Event version to show")
	rest.Parse(flag.Args()[1:])

	ctx := context.Background()
	db := sqldb.New(sqldb.Config{File: *dbFile, ReadOnly: true})
	defer db.Close(ctx)

	var err error
	switch cmd {
	case "status":
		err = runStatus(ctx, db)
	case "show":
		err = runShow(ctx, db, *version)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, db *sqldb.Conn) error {
	metadata := jsontable.New("metadata")
	var doc struct {
		V uint64 `json:"v"`
	}
	found, err := metadata.Get(ctx, db, "version", &doc)
	if err != nil {
		return fmt.Errorf("read applied version: %w", err)
	}
	applied := uint64(0)
	if found {
		applied = doc.V
	}

	queueStore := sqlqueue.NewStore(db, sqlqueue.DefaultConfig())
	latest, err := queueStore.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("read latest queue version: %w", err)
	}

	fmt.Printf("applied version: %d\n", applied)
	fmt.Printf("latest queue version: %d\n", latest)
	if latest > applied {
		fmt.Printf("%d event(s) pending\n", latest-applied)
	}
	return nil
}

func runShow(ctx context.Context, db *sqldb.Conn, version uint64) error {
	if version == 0 {
		return fmt.Errorf("-v is required for show")
	}
	queueStore := sqlqueue.NewStore(db, sqlqueue.DefaultConfig())
	ev, err := queueStore.Get(ctx, version)
	if err != nil {
		return fmt.Errorf("read event %d: %w", version, err)
	}
	if ev == nil {
		return fmt.Errorf("no event at version %d", version)
	}
	out, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event %d: %w", version, err)
	}
	fmt.Println(string(out))
	return nil
}
