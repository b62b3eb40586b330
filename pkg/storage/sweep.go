package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/rs/zerolog"
)

// Sweeper periodically purges rows that TTL and stale batch bookkeeping
// left behind. Grounded on the health-monitor start/stop + ticker-loop
// shape used elsewhere in this codebase for background workers.
type Sweeper struct {
	store    *SQLStore
	interval time.Duration
	batchSize int
	stopCh   chan struct{}
	doneCh   chan struct{}
	log      zerolog.Logger
}

// NewSweeper builds a Sweeper over store. interval controls how often a
// pass runs; batchSize bounds how many expired rows a single pass deletes
// per shard, so one long sweep never holds a shard's write lock for too
// long under a large backlog.
func NewSweeper(store *SQLStore, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       store.log.With().Str("worker", "sweeper").Logger(),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called.
func (sw *Sweeper) Start() {
	go sw.loop()
}

// Stop requests the loop exit and blocks until it has.
func (sw *Sweeper) Stop() {
	close(sw.stopCh)
	<-sw.doneCh
}

func (sw *Sweeper) loop() {
	defer close(sw.doneCh)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.runOnce(context.Background())
		case <-sw.stopCh:
			return
		}
	}
}

// runOnce sweeps expired bso rows from every shard and drops batches past
// their TTL, logging counts rather than returning them since nothing
// calls this synchronously in production.
func (sw *Sweeper) runOnce(ctx context.Context) {
	now := syncschema.NowMillis()

	for shard := 0; shard < sw.store.shards; shard++ {
		n, err := sw.sweepShard(ctx, shard, now)
		if err != nil {
			sw.log.Error().Err(err).Int("shard", shard).Msg("ttl sweep failed")
			continue
		}
		if n > 0 {
			sw.log.Info().Int("shard", shard).Int64("deleted", n).Msg("ttl sweep")
		}
	}

	n, err := sw.sweepBatches(ctx, now)
	if err != nil {
		sw.log.Error().Err(err).Msg("batch sweep failed")
		return
	}
	if n > 0 {
		sw.log.Info().Int64("deleted", n).Msg("batch sweep")
	}
}

// sweepShard deletes expired rows from one shard's bso table in batches
// of sw.batchSize, using the dialect's limited-delete so a single pass
// never holds the table lock over an unbounded backlog.
func (sw *Sweeper) sweepShard(ctx context.Context, shard int, now int64) (int64, error) {
	table := fmt.Sprintf("bso%d", shard)
	var total int64
	for {
		tx, err := sw.store.dialect.BeginWrite(ctx, sw.store.db)
		if err != nil {
			return total, fmt.Errorf("sweep %s: begin: %w", table, err)
		}
		ids, err := sw.store.dialect.DeleteItemsLimited(ctx, tx, table, "(ttl * 1000) < ?", []interface{}{now}, "", sw.batchSize)
		if err != nil {
			rollback(tx)
			return total, fmt.Errorf("sweep %s: %w", table, err)
		}
		if err := tx.Commit(); err != nil {
			return total, fmt.Errorf("sweep %s: commit: %w", table, err)
		}
		total += int64(len(ids))
		if len(ids) < sw.batchSize {
			break
		}
	}
	return total, nil
}

func (sw *Sweeper) sweepBatches(ctx context.Context, now int64) (int64, error) {
	cutoff := now - syncschema.BatchTTLSeconds*1000
	res, err := sw.store.db.ExecContext(ctx,
		rewritePlaceholders(`DELETE FROM batch_uploads WHERE created_at < ?`, sw.store.dialect.Placeholder),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep batches: %w", err)
	}
	n, _ := res.RowsAffected()
	// batch_upload_items_N rows carry no ttl of their own: any whose batch
	// row is gone (expired above, or dropped by DeleteStorage) are removed
	// here, shard by shard.
	for shard := 0; shard < sw.store.shards; shard++ {
		if _, err := sw.store.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM batch_upload_items_%d WHERE batch NOT IN (SELECT batch FROM batch_uploads)`, shard,
		)); err != nil {
			return n, fmt.Errorf("sweep batch items: %w", err)
		}
	}
	return n, nil
}
