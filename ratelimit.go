package main

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Rate limiter
// ---------------------------------------------------------------------------

const staleBucketWindow = 5 // buckets kept before opportunistic pruning

type rateEntry struct {
	Bucket int64
	Count  int
}

// rateLimiter counts requests per hashed client key in one-minute buckets.
// It is advisory admission control: a caller that spoofs its address walks
// around it, and the counters reset on restart in memory mode.
type rateLimiter struct {
	db  *sql.DB
	mu  sync.Mutex
	mem map[string]rateEntry
	now func() time.Time
}

func newRateLimiter(db *sql.DB) *rateLimiter {
	return &rateLimiter{
		db:  db,
		mem: make(map[string]rateEntry),
		now: time.Now,
	}
}

func (l *rateLimiter) ensureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sb_rate_limits (
		client_key TEXT PRIMARY KEY,
		bucket BIGINT NOT NULL,
		count INT NOT NULL
	)`)
	return err
}

// allow reports whether the caller is still inside its per-minute budget.
// Failures in postgres mode fail open: admission control must never take the
// webhook down with it.
func (l *rateLimiter) allow(ctx context.Context, clientKey string, limit int) bool {
	hashed := hashClientKey(clientKey)
	bucket := l.now().Unix() / 60

	if l.db == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		for key, e := range l.mem {
			if e.Bucket < bucket-staleBucketWindow {
				delete(l.mem, key)
			}
		}
		e := l.mem[hashed]
		if e.Bucket != bucket {
			e = rateEntry{Bucket: bucket}
		}
		e.Count++
		l.mem[hashed] = e
		return e.Count <= limit
	}

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM sb_rate_limits WHERE bucket < $1`, bucket-staleBucketWindow); err != nil {
		log.Printf("warn: rate limit prune failed: %v", err)
	}
	var count int
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO sb_rate_limits (client_key, bucket, count) VALUES ($1, $2, 1)
		ON CONFLICT (client_key) DO UPDATE SET
			count = CASE WHEN sb_rate_limits.bucket = EXCLUDED.bucket THEN sb_rate_limits.count + 1 ELSE 1 END,
			bucket = EXCLUDED.bucket
		RETURNING count`,
		hashed, bucket,
	).Scan(&count)
	if err != nil {
		log.Printf("warn: rate limit update failed, allowing request: %v", err)
		return true
	}
	return count <= limit
}
