package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/syncstore/pkg/cache"
	"github.com/cuemby/syncstore/pkg/config"
	"github.com/cuemby/syncstore/pkg/log"
	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/cuemby/syncstore/pkg/storage/dialect"
)

// openDB parses storage.sqluri (spec.md §6) and opens the matching
// database/sql driver alongside the dialect.Dialect that knows its
// locking/upsert/limited-delete idiom.
func openDB(sqluri string) (*sql.DB, dialect.Dialect, error) {
	u, err := url.Parse(sqluri)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing storage.sqluri: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		db, err := sql.Open("postgres", sqluri)
		return db, dialect.Postgres{}, err
	case "mysql":
		db, err := sql.Open("mysql", strings.TrimPrefix(sqluri, "mysql://"))
		return db, dialect.MySQL{}, err
	case "sqlite", "sqlite3":
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		db, err := sql.Open("sqlite3", path)
		return db, dialect.SQLite{}, err
	default:
		return nil, nil, fmt.Errorf("unrecognized storage.sqluri scheme %q (want postgres/mysql/sqlite)", u.Scheme)
	}
}

// buildStore opens the configured database, wraps it in storage.Open,
// and layers a cache.Overlay on top when storage.backend is cached-sql.
// It returns the storage.Store the controller talks to, the underlying
// *storage.SQLStore the background sweeper needs directly, and a
// cleanup func closing everything this opened.
func buildStore(cfg config.Config) (storage.Store, *storage.SQLStore, func(), error) {
	db, dlct, err := openDB(cfg.Storage.SQLURI)
	if err != nil {
		return nil, nil, nil, err
	}

	shards := 1
	if cfg.Storage.Shard && cfg.Storage.ShardSize > 0 {
		shards = cfg.Storage.ShardSize
	}

	sqlStore, err := storage.Open(db, storage.Config{
		Dialect:       dlct,
		Shards:        shards,
		UseQuota:      cfg.Storage.UseQuota,
		QuotaKB:       cfg.Storage.QuotaSizeKB,
		NameCachePath: filepath.Join(os.TempDir(), "syncstore-namecache.db"),
		MaxOpenConns:  cfg.Storage.PoolSize,
		MaxIdleConns:  cfg.Storage.PoolSize,
		StandardNames: cfg.Storage.StandardCollections,
	}, log.Logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	var store storage.Store = sqlStore
	cleanup := func() {
		_ = sqlStore.Close()
		_ = db.Close()
	}

	if cfg.Storage.Backend == "cached-sql" {
		mc := cache.New(cfg.Storage.CacheServers, log.Logger)
		store = cache.NewOverlay(sqlStore, mc, log.Logger)
	}

	return store, sqlStore, cleanup, nil
}
