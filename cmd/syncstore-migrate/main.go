package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/cuemby/syncstore/pkg/storage/dialect"
)

var (
	sqluri = flag.String("sqluri", "", "storage.sqluri to migrate (postgres://, mysql://, or sqlite://)")
	shards = flag.Int("shards", 1, "number of bso shard tables to create (storage.shardsize)")
	dryRun = flag.Bool("dry-run", false, "print the DDL without executing it")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *sqluri == "" {
		log.Fatal("-sqluri is required")
	}
	if *shards < 1 {
		log.Fatal("-shards must be at least 1")
	}

	dlct, err := dialectFor(*sqluri)
	if err != nil {
		log.Fatalf("resolving dialect: %v", err)
	}

	statements := dlct.Schema(*shards)
	log.Printf("syncstore schema migration: %s, %d shard table(s), %d statement(s)", dlct.Name(), *shards, len(statements))

	if *dryRun {
		for _, stmt := range statements {
			fmt.Println(stmt + ";")
		}
		log.Println("dry run: no statements executed")
		return
	}

	db, err := openForMigration(*sqluri, dlct)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(context.Background(), db, dlct, *shards); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migration completed successfully")
}

func dialectFor(sqluri string) (dialect.Dialect, error) {
	u, err := url.Parse(sqluri)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return dialect.Postgres{}, nil
	case "mysql":
		return dialect.MySQL{}, nil
	case "sqlite", "sqlite3":
		return dialect.SQLite{}, nil
	default:
		return nil, fmt.Errorf("unrecognized sqluri scheme %q", u.Scheme)
	}
}

func openForMigration(sqluri string, dlct dialect.Dialect) (*sql.DB, error) {
	switch dlct.Name() {
	case "postgres":
		return sql.Open("postgres", sqluri)
	case "mysql":
		return sql.Open("mysql", strings.TrimPrefix(sqluri, "mysql://"))
	case "sqlite":
		u, _ := url.Parse(sqluri)
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		return sql.Open("sqlite3", path)
	default:
		return nil, fmt.Errorf("unhandled dialect %q", dlct.Name())
	}
}
