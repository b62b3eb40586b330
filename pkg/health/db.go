package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBChecker performs a liveness check against the storage backend by
// pinging the pooled *sql.DB connection.
type DBChecker struct {
	// DB is the pool shared with pkg/storage's SQLStore.
	DB *sql.DB

	// Timeout bounds how long the ping may take (default: 5 seconds).
	Timeout time.Duration
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		DB:      db,
		Timeout: 5 * time.Second,
	}
}

// Check performs the database health check.
func (d *DBChecker) Check(ctx context.Context) Result {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	if err := d.DB.PingContext(pingCtx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "database reachable",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (d *DBChecker) Type() CheckType {
	return CheckTypeDB
}

// WithTimeout sets the ping timeout.
func (d *DBChecker) WithTimeout(timeout time.Duration) *DBChecker {
	d.Timeout = timeout
	return d
}
