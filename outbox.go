package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

type effectKind string

const (
	effectSheetForward  effectKind = "sheet_forward"
	effectCustomerEmail effectKind = "customer_email"
	effectOwnerEmail    effectKind = "owner_email"
	effectShippingEmail effectKind = "shipping_email"
	effectSupplierEmail effectKind = "supplier_email"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxEntry struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Kind          effectKind      `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type outboxCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// outbox persists side effects before delivery so a crashed process or a
// flaky downstream leaves an auditable pending/sent/failed trail instead of
// silently dropping mail and sheet rows.
type outbox struct {
	db          *sql.DB
	mu          sync.Mutex
	mem         map[string]outboxEntry
	now         func() time.Time
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newOutbox(db *sql.DB) *outbox {
	return &outbox{
		db:          db,
		mem:         make(map[string]outboxEntry),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: 5,
		baseBackoff: 30 * time.Second,
		maxBackoff:  time.Hour,
	}
}

func (o *outbox) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sb_outbox (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sb_outbox_due ON sb_outbox (status, next_attempt_at)`,
	}
	for _, stmt := range stmts {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (o *outbox) enqueue(ctx context.Context, orderID string, kind effectKind, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	now := o.now()
	e := outboxEntry{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Kind:          kind,
		Payload:       raw,
		Status:        outboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if o.db == nil {
		o.mu.Lock()
		o.mem[e.ID] = e
		o.mu.Unlock()
		return e.ID, nil
	}

	_, err = o.db.ExecContext(ctx,
		`INSERT INTO sb_outbox (id, order_id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.OrderID, string(e.Kind), string(e.Payload), e.Status, e.Attempts, e.NextAttemptAt, nilIfEmpty(e.LastError), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (o *outbox) due(ctx context.Context, limit int) ([]outboxEntry, error) {
	now := o.now()

	if o.db == nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		entries := make([]outboxEntry, 0)
		for _, e := range o.mem {
			if e.Status == outboxStatusPending && !e.NextAttemptAt.After(now) {
				entries = append(entries, e)
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}

	rows, err := o.db.QueryContext(ctx,
		`SELECT id, order_id, kind, payload, status, attempts, next_attempt_at, COALESCE(last_error, ''), created_at, updated_at
		FROM sb_outbox WHERE status = $1 AND next_attempt_at <= $2 ORDER BY created_at LIMIT $3`,
		outboxStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		var kind, payload string
		if err := rows.Scan(&e.ID, &e.OrderID, &kind, &payload, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Kind = effectKind(kind)
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (o *outbox) markSent(ctx context.Context, id string) error {
	now := o.now()
	if o.db == nil {
		o.mu.Lock()
		if e, ok := o.mem[id]; ok {
			e.Status = outboxStatusSent
			e.Attempts++
			e.LastError = ""
			e.UpdatedAt = now
			o.mem[id] = e
		}
		o.mu.Unlock()
		return nil
	}
	_, err := o.db.ExecContext(ctx,
		`UPDATE sb_outbox SET status = $1, attempts = attempts + 1, last_error = NULL, updated_at = $2 WHERE id = $3`,
		outboxStatusSent, now, id)
	return err
}

// markRetry records a failed attempt: exponential backoff while attempts
// remain, terminal failed state once the budget is spent.
func (o *outbox) markRetry(ctx context.Context, e outboxEntry, deliverErr error) error {
	now := o.now()
	attempts := e.Attempts + 1
	status := outboxStatusPending
	next := now.Add(o.backoff(attempts))
	if attempts >= o.maxAttempts {
		status = outboxStatusFailed
		next = now
	}

	if o.db == nil {
		o.mu.Lock()
		if cur, ok := o.mem[e.ID]; ok {
			cur.Status = status
			cur.Attempts = attempts
			cur.NextAttemptAt = next
			cur.LastError = deliverErr.Error()
			cur.UpdatedAt = now
			o.mem[e.ID] = cur
		}
		o.mu.Unlock()
		return nil
	}
	_, err := o.db.ExecContext(ctx,
		`UPDATE sb_outbox SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = $5 WHERE id = $6`,
		status, attempts, next, deliverErr.Error(), now, e.ID)
	return err
}

func (o *outbox) backoff(attempts int) time.Duration {
	d := o.baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.maxBackoff {
			return o.maxBackoff
		}
	}
	return d
}

func (o *outbox) snapshot(ctx context.Context, limit int) ([]outboxEntry, outboxCounts, error) {
	var counts outboxCounts

	if o.db == nil {
		o.mu.Lock()
		entries := make([]outboxEntry, 0, len(o.mem))
		for _, e := range o.mem {
			entries = append(entries, e)
			switch e.Status {
			case outboxStatusPending:
				counts.Pending++
			case outboxStatusSent:
				counts.Sent++
			case outboxStatusFailed:
				counts.Failed++
			}
		}
		o.mu.Unlock()
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, counts, nil
	}

	rows, err := o.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sb_outbox GROUP BY status`)
	if err != nil {
		return nil, counts, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, counts, err
		}
		switch status {
		case outboxStatusPending:
			counts.Pending = n
		case outboxStatusSent:
			counts.Sent = n
		case outboxStatusFailed:
			counts.Failed = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, counts, err
	}

	rows, err = o.db.QueryContext(ctx,
		`SELECT id, order_id, kind, payload, status, attempts, next_attempt_at, COALESCE(last_error, ''), created_at, updated_at
		FROM sb_outbox ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, counts, err
	}
	defer rows.Close()
	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		var kind, payload string
		if err := rows.Scan(&e.ID, &e.OrderID, &kind, &payload, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, counts, err
		}
		e.Kind = effectKind(kind)
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, counts, rows.Err()
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// processDue makes one delivery pass over due entries and reports how many
// were delivered.
func (o *outbox) processDue(ctx context.Context, deliver func(context.Context, outboxEntry) error) (int, error) {
	entries, err := o.due(ctx, 50)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, e := range entries {
		if err := deliver(ctx, e); err != nil {
			log.Printf("outbox: %s delivery failed for order %s (attempt %d): %v", e.Kind, e.OrderID, e.Attempts+1, err)
			if mErr := o.markRetry(ctx, e, err); mErr != nil {
				log.Printf("outbox: retry bookkeeping failed for %s: %v", e.ID, mErr)
			}
			continue
		}
		if err := o.markSent(ctx, e.ID); err != nil {
			log.Printf("outbox: sent bookkeeping failed for %s: %v", e.ID, err)
		}
		delivered++
	}
	return delivered, nil
}

// run drives processDue on a ticker until the context ends.
func (o *outbox) run(ctx context.Context, interval time.Duration, deliver func(context.Context, outboxEntry) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.processDue(ctx, deliver); err != nil {
				log.Printf("outbox: worker pass failed: %v", err)
			}
		}
	}
}
