package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/syncstore/pkg/storage/dialect"
	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/rs/zerolog"
)

// Config configures a SQLStore.
type Config struct {
	Dialect        dialect.Dialect
	Shards         int // 1 disables sharding; hash(userid) mod Shards otherwise
	UseQuota       bool
	QuotaKB        int64
	NameCachePath  string // optional bbolt file backing the name cache
	MaxOpenConns   int
	MaxIdleConns   int
	StandardNames  bool // pre-seed spec.md §4.1 well-known collection ids
}

// SQLStore is the authoritative storage.Store implementation: every
// operation opens a transaction, locks user_collections for the
// (user,collection) pair under the dialect's locking discipline, and
// commits the new last_modified alongside the row change (spec.md §4.1).
type SQLStore struct {
	db      *sql.DB
	dialect dialect.Dialect
	shards  int
	quota   bool
	quotaKB int64
	names   *nameCache
	log     zerolog.Logger
}

// Open builds a SQLStore over an already-open *sql.DB. The caller owns
// connection-string parsing (storage.sqluri in spec.md §6) and driver
// selection; Open only wires the dialect and pool limits.
func Open(db *sql.DB, cfg Config, log zerolog.Logger) (*SQLStore, error) {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	names, err := newNameCache(cfg.NameCachePath)
	if err != nil {
		return nil, fmt.Errorf("syncstore: open name cache: %w", err)
	}
	s := &SQLStore{
		db:      db,
		dialect: cfg.Dialect,
		shards:  cfg.Shards,
		quota:   cfg.UseQuota,
		quotaKB: cfg.QuotaKB,
		names:   names,
		log:     log.With().Str("component", "storage").Logger(),
	}
	if cfg.StandardNames {
		if err := s.seedStandardCollections(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Migrate runs the dialect's schema DDL. Idempotent: every statement is
// "IF NOT EXISTS".
func Migrate(ctx context.Context, db *sql.DB, d dialect.Dialect, shards int) error {
	if shards <= 0 {
		shards = 1
	}
	for _, stmt := range d.Schema(shards) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("syncstore: migrate: %w", err)
		}
	}
	return nil
}

// DB returns the pooled connection backing this store, for components
// (health checks, metrics) that need to observe it directly.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	if s.names != nil {
		s.names.Close()
	}
	return s.db.Close()
}

func (s *SQLStore) bsoTable(userID int64) string {
	return dialect.BSOTableName(dialect.Shard(userID, s.shards))
}

func (s *SQLStore) seedStandardCollections(ctx context.Context) error {
	for i, name := range syncschema.StandardCollections {
		id := i + 1
		if id >= syncschema.ReservedCollectionIDFloor {
			return fmt.Errorf("syncstore: too many standard collections for reserved id floor")
		}
		var existing string
		row := s.db.QueryRowContext(ctx,
			rewritePlaceholders(`SELECT name FROM collections WHERE collectionid = ?`, s.dialect.Placeholder), id)
		if scanErr := row.Scan(&existing); scanErr == nil {
			s.names.store(existing, id)
			continue
		}
		if _, insErr := s.db.ExecContext(ctx,
			rewritePlaceholders(`INSERT INTO collections (collectionid, name) VALUES (?, ?)`, s.dialect.Placeholder),
			id, name,
		); insErr != nil {
			return fmt.Errorf("syncstore: seed collection %q: %w", name, insErr)
		}
		s.names.store(name, id)
	}
	return nil
}

// resolveCollectionID returns the global id for name, inserting it (and
// assigning the next sequence value) if it has never been used before by
// any user (spec.md §4.1 collection-id assignment).
func (s *SQLStore) resolveCollectionID(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	if id, ok := s.names.lookup(name); ok {
		return id, nil
	}

	var id int
	err := tx.QueryRowContext(ctx,
		rewritePlaceholders(`SELECT collectionid FROM collections WHERE name = ?`, s.dialect.Placeholder), name,
	).Scan(&id)
	if err == nil {
		s.names.store(name, id)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("syncstore: resolve collection %q: %w", name, err)
	}

	res, err := tx.ExecContext(ctx,
		rewritePlaceholders(`INSERT INTO collections (name) VALUES (?)`, s.dialect.Placeholder), name,
	)
	if err != nil {
		return 0, fmt.Errorf("syncstore: insert collection %q: %w", name, err)
	}
	last, err := res.LastInsertId()
	if err != nil {
		// Postgres drivers don't implement LastInsertId; fall back to a
		// read-back, which is safe since we're still inside the write tx.
		if scanErr := tx.QueryRowContext(ctx,
			rewritePlaceholders(`SELECT collectionid FROM collections WHERE name = ?`, s.dialect.Placeholder), name,
		).Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("syncstore: read back collection %q: %w", name, scanErr)
		}
		s.names.store(name, id)
		return id, nil
	}
	id = int(last)
	s.names.store(name, id)
	return id, nil
}

func (s *SQLStore) collectionName(ctx context.Context, id int) (string, error) {
	if name, ok := s.names.lookupName(id); ok {
		return name, nil
	}
	var name string
	err := s.db.QueryRowContext(ctx,
		rewritePlaceholders(`SELECT name FROM collections WHERE collectionid = ?`, s.dialect.Placeholder), id,
	).Scan(&name)
	if err != nil {
		return "", err
	}
	s.names.store(name, id)
	return name, nil
}

// CollectionTimestamps implements get_collection_timestamps.
func (s *SQLStore) CollectionTimestamps(ctx context.Context, uid int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		rewritePlaceholders(`
			SELECT c.name, uc.last_modified
			FROM user_collections uc
			JOIN collections c ON c.collectionid = uc.collectionid
			WHERE uc.userid = ? AND uc.last_modified > 0`, s.dialect.Placeholder),
		uid,
	)
	if err != nil {
		return nil, Wrap(err, "collection timestamps")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var lm int64
		if err := rows.Scan(&name, &lm); err != nil {
			return nil, Wrap(err, "collection timestamps scan")
		}
		out[name] = lm
	}
	return out, rows.Err()
}

// CollectionCounts implements get_collection_counts: live, non-expired
// item counts per collection.
func (s *SQLStore) CollectionCounts(ctx context.Context, uid int64) (map[string]int, error) {
	table := s.bsoTable(uid)
	now := syncschema.NowMillis()
	rows, err := s.db.QueryContext(ctx,
		rewritePlaceholders(fmt.Sprintf(`
			SELECT c.name, COUNT(*)
			FROM %s b
			JOIN collections c ON c.collectionid = b.collection
			WHERE b.userid = ? AND (b.ttl * 1000) >= ?
			GROUP BY c.name`, table), s.dialect.Placeholder),
		uid, now,
	)
	if err != nil {
		return nil, Wrap(err, "collection counts")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, Wrap(err, "collection counts scan")
		}
		out[name] = count
	}
	return out, rows.Err()
}

// CollectionUsage implements get_collection_usage: total payload bytes per
// collection (the controller converts them to KB for the wire).
func (s *SQLStore) CollectionUsage(ctx context.Context, uid int64) (map[string]int64, error) {
	table := s.bsoTable(uid)
	now := syncschema.NowMillis()
	rows, err := s.db.QueryContext(ctx,
		rewritePlaceholders(fmt.Sprintf(`
			SELECT c.name, COALESCE(SUM(b.payload_size), 0)
			FROM %s b
			JOIN collections c ON c.collectionid = b.collection
			WHERE b.userid = ? AND (b.ttl * 1000) >= ?
			GROUP BY c.name`, table), s.dialect.Placeholder),
		uid, now,
	)
	if err != nil {
		return nil, Wrap(err, "collection usage")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var bytes int64
		if err := rows.Scan(&name, &bytes); err != nil {
			return nil, Wrap(err, "collection usage scan")
		}
		out[name] = bytes
	}
	return out, rows.Err()
}

// StorageSize implements get_storage_size: total payload bytes across every
// live item of uid.
func (s *SQLStore) StorageSize(ctx context.Context, uid int64) (int64, error) {
	table := s.bsoTable(uid)
	now := syncschema.NowMillis()
	var totalBytes int64
	err := s.db.QueryRowContext(ctx,
		rewritePlaceholders(fmt.Sprintf(`
			SELECT COALESCE(SUM(payload_size), 0) FROM %s
			WHERE userid = ? AND (ttl * 1000) >= ?`, table), s.dialect.Placeholder),
		uid, now,
	).Scan(&totalBytes)
	if err != nil {
		return 0, Wrap(err, "storage size")
	}
	return totalBytes, nil
}
