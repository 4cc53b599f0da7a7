package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type orderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	SKU      string  `json:"sku,omitempty"`
}

type orderPayment struct {
	Method        string     `json:"method,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type order struct {
	ID              string       `json:"id"`
	CreatedAt       time.Time    `json:"created_at"`
	CustomerName    string       `json:"customer_name,omitempty"`
	CustomerEmail   string       `json:"customer_email,omitempty"`
	Phone           string       `json:"phone,omitempty"`
	Items           []orderItem  `json:"items,omitempty"`
	Product         string       `json:"product,omitempty"`
	Quantity        int          `json:"quantity"`
	Subtotal        float64      `json:"subtotal"`
	Shipping        float64      `json:"shipping"`
	Tax             float64      `json:"tax"`
	Total           float64      `json:"total"`
	Currency        string       `json:"currency"`
	ShippingAddress string       `json:"shipping_address,omitempty"`
	Payment         orderPayment `json:"payment"`
	Status          string       `json:"status"`
	FraudScore      float64      `json:"fraud_score"`
	RiskFlags       []string     `json:"risk_flags,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type orderListResponse struct {
	Items      []order `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
	Cached     bool    `json:"cached"`
}

type orderStats struct {
	Revenue     float64 `json:"revenue"`
	OrdersCount int     `json:"orders_count"`
	LastOrder   string  `json:"last_order,omitempty"`
}

type cacheItem struct {
	Response orderListResponse
	Expires  time.Time
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// orderStore persists orders in Postgres when a database is configured and
// falls back to guarded in-memory maps otherwise, so the service stays usable
// in local setups without a database.
type orderStore struct {
	db        *sql.DB
	cacheTTL  time.Duration
	cacheMu   sync.RWMutex
	listCache map[string]cacheItem
	memMu     sync.RWMutex
	memByID   map[string]order
}

func newOrderStore(db *sql.DB, cacheTTL time.Duration) *orderStore {
	return &orderStore{
		db:        db,
		cacheTTL:  cacheTTL,
		listCache: make(map[string]cacheItem),
		memByID:   make(map[string]order),
	}
}

func connectDB() (*sql.DB, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		host := env("DB_HOST", "")
		if host == "" {
			return nil, errors.New("missing DATABASE_URL or DB_HOST")
		}
		port := env("DB_PORT", "5432")
		user := env("DB_USER", "postgres")
		pass := env("DB_PASSWORD", "postgres")
		name := env("DB_NAME", "sellbuddy")
		ssl := env("DB_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(intEnv("DB_MAX_OPEN_CONNS", 30))
	db.SetMaxIdleConns(intEnv("DB_MAX_IDLE_CONNS", 10))
	db.SetConnMaxIdleTime(durationEnv("DB_CONN_MAX_IDLE", 5*time.Minute))
	db.SetConnMaxLifetime(durationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *orderStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sb_orders (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			customer_name TEXT,
			customer_email TEXT,
			phone TEXT,
			product TEXT,
			quantity INT NOT NULL DEFAULT 0,
			items_json TEXT,
			subtotal DOUBLE PRECISION NOT NULL DEFAULT 0,
			shipping DOUBLE PRECISION NOT NULL DEFAULT 0,
			tax DOUBLE PRECISION NOT NULL DEFAULT 0,
			total DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			shipping_address TEXT,
			payment_method TEXT,
			transaction_id TEXT,
			paid_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			fraud_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_flags_json TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sb_orders_created ON sb_orders (created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sb_orders_status ON sb_orders (status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func (s *orderStore) recordOrder(ctx context.Context, o order) error {
	if s.db == nil {
		s.memMu.Lock()
		s.memByID[o.ID] = o
		s.memMu.Unlock()
		s.invalidateCache()
		return nil
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	flagsJSON, err := json.Marshal(o.RiskFlags)
	if err != nil {
		return err
	}
	q := `INSERT INTO sb_orders (id, created_at, customer_name, customer_email, phone, product, quantity, items_json, subtotal, shipping, tax, total, currency, shipping_address, payment_method, transaction_id, paid_at, status, fraud_score, risk_flags_json, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, q,
		o.ID, o.CreatedAt, nilIfEmpty(o.CustomerName), nilIfEmpty(o.CustomerEmail), nilIfEmpty(o.Phone),
		nilIfEmpty(o.Product), o.Quantity, string(itemsJSON), o.Subtotal, o.Shipping, o.Tax, o.Total,
		o.Currency, nilIfEmpty(o.ShippingAddress), nilIfEmpty(o.Payment.Method),
		nilIfEmpty(o.Payment.TransactionID), o.Payment.PaidAt, o.Status, o.FraudScore,
		string(flagsJSON), o.UpdatedAt,
	); err != nil {
		return err
	}
	s.invalidateCache()
	return nil
}

// updateStatus mutates the stored status in place. An unknown order id is a
// silent no-op: the provider replays status events for orders it never
// completed here, and those must not surface as errors.
func (s *orderStore) updateStatus(ctx context.Context, orderID, status string) error {
	now := time.Now().UTC()
	if s.db == nil {
		s.memMu.Lock()
		if o, ok := s.memByID[orderID]; ok {
			o.Status = status
			o.UpdatedAt = now
			s.memByID[orderID] = o
		}
		s.memMu.Unlock()
		s.invalidateCache()
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sb_orders SET status = $1, updated_at = $2 WHERE id = $3`, status, now, orderID)
	if err != nil {
		return err
	}
	s.invalidateCache()
	return nil
}

// recordPayment fills in payment confirmation fields; same silent no-op
// policy on an unknown order id as updateStatus.
func (s *orderStore) recordPayment(ctx context.Context, orderID, transactionID, method string) error {
	now := time.Now().UTC()
	if s.db == nil {
		s.memMu.Lock()
		if o, ok := s.memByID[orderID]; ok {
			o.Payment.TransactionID = transactionID
			if method != "" {
				o.Payment.Method = method
			}
			paid := now
			o.Payment.PaidAt = &paid
			o.UpdatedAt = now
			s.memByID[orderID] = o
		}
		s.memMu.Unlock()
		s.invalidateCache()
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sb_orders SET transaction_id = $1, payment_method = COALESCE(NULLIF($2, ''), payment_method), paid_at = $3, updated_at = $3 WHERE id = $4`,
		transactionID, method, now, orderID)
	if err != nil {
		return err
	}
	s.invalidateCache()
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *orderStore) getByID(ctx context.Context, id string) (order, error) {
	if s.db == nil {
		s.memMu.RLock()
		o, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return order{}, sql.ErrNoRows
		}
		return o, nil
	}

	q := `SELECT id, created_at, customer_name, customer_email, phone, product, quantity, items_json, subtotal, shipping, tax, total, currency, shipping_address, payment_method, transaction_id, paid_at, status, fraud_score, risk_flags_json, updated_at
		FROM sb_orders WHERE id = $1`
	return scanOrder(s.db.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order, error) {
	var o order
	var name, email, phone, product, itemsJSON, shippingAddr, payMethod, txnID, flagsJSON sql.NullString
	var paidAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.CreatedAt, &name, &email, &phone, &product, &o.Quantity, &itemsJSON,
		&o.Subtotal, &o.Shipping, &o.Tax, &o.Total, &o.Currency, &shippingAddr,
		&payMethod, &txnID, &paidAt, &o.Status, &o.FraudScore, &flagsJSON, &o.UpdatedAt,
	)
	if err != nil {
		return order{}, err
	}
	o.CustomerName = name.String
	o.CustomerEmail = email.String
	o.Phone = phone.String
	o.Product = product.String
	o.ShippingAddress = shippingAddr.String
	o.Payment.Method = payMethod.String
	o.Payment.TransactionID = txnID.String
	if paidAt.Valid {
		t := paidAt.Time
		o.Payment.PaidAt = &t
	}
	if itemsJSON.Valid && itemsJSON.String != "" {
		_ = json.Unmarshal([]byte(itemsJSON.String), &o.Items)
	}
	if flagsJSON.Valid && flagsJSON.String != "" {
		_ = json.Unmarshal([]byte(flagsJSON.String), &o.RiskFlags)
	}
	return o, nil
}

func (s *orderStore) list(ctx context.Context, status, cursor string, limit int) (orderListResponse, error) {
	if cursor == "" {
		if cached, ok := s.getListCache(status, limit); ok {
			cached.Cached = true
			return cached, nil
		}
	}

	if s.db == nil {
		resp := s.listMemory(status, cursor, limit)
		if cursor == "" {
			s.setListCache(status, limit, resp)
		}
		return resp, nil
	}

	cursorTime, cursorID, err := parseCursor(cursor)
	if err != nil {
		return orderListResponse{}, err
	}

	args := []any{}
	where := []string{}
	nextArg := 1
	if status != "" {
		where = append(where, fmt.Sprintf("status = $%d", nextArg))
		args = append(args, status)
		nextArg++
	}
	if !cursorTime.IsZero() {
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", nextArg, nextArg+1))
		args = append(args, cursorTime, cursorID)
		nextArg += 2
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	q := fmt.Sprintf(`
		SELECT id, created_at, customer_name, customer_email, phone, product, quantity, items_json, subtotal, shipping, tax, total, currency, shipping_address, payment_method, transaction_id, paid_at, status, fraud_score, risk_flags_json, updated_at
		FROM sb_orders
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, clause, nextArg)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return orderListResponse{}, err
	}
	defer rows.Close()

	items := make([]order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return orderListResponse{}, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return orderListResponse{}, err
	}

	resp := orderListResponse{Items: items}
	if len(items) > limit {
		last := items[limit-1]
		resp.Items = items[:limit]
		resp.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	if cursor == "" {
		s.setListCache(status, limit, resp)
	}
	return resp, nil
}

func (s *orderStore) listMemory(status, cursor string, limit int) orderListResponse {
	s.memMu.RLock()
	items := make([]order, 0, len(s.memByID))
	for _, o := range s.memByID {
		if status != "" && o.Status != status {
			continue
		}
		items = append(items, o)
	}
	s.memMu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if cursor != "" {
		cursorTime, cursorID, err := parseCursor(cursor)
		if err == nil {
			filtered := items[:0]
			for _, it := range items {
				if it.CreatedAt.Before(cursorTime) || (it.CreatedAt.Equal(cursorTime) && it.ID < cursorID) {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
	}

	resp := orderListResponse{}
	if len(items) <= limit {
		resp.Items = append(resp.Items, items...)
		return resp
	}
	resp.Items = append(resp.Items, items[:limit]...)
	last := items[limit-1]
	resp.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	return resp
}

func (s *orderStore) stats(ctx context.Context) (orderStats, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		st := orderStats{}
		var last time.Time
		for _, o := range s.memByID {
			st.OrdersCount++
			st.Revenue = round2(st.Revenue + o.Total)
			if o.CreatedAt.After(last) {
				last = o.CreatedAt
			}
		}
		if !last.IsZero() {
			st.LastOrder = last.UTC().Format("2006-01-02 15:04:05")
		}
		return st, nil
	}

	var revenue sql.NullFloat64
	var count int
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total), 0), COUNT(*), MAX(created_at) FROM sb_orders`,
	).Scan(&revenue, &count, &last)
	if err != nil {
		return orderStats{}, err
	}
	st := orderStats{Revenue: round2(revenue.Float64), OrdersCount: count}
	if last.Valid {
		st.LastOrder = last.Time.UTC().Format("2006-01-02 15:04:05")
	}
	return st, nil
}

func (s *orderStore) statusCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if s.db == nil {
		s.memMu.RLock()
		for _, o := range s.memByID {
			counts[o.Status]++
		}
		s.memMu.RUnlock()
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sb_orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// customerHistory returns lifetime order count and spend for one email,
// which drives the fulfillment customer tier.
func (s *orderStore) customerHistory(ctx context.Context, email string) (int, float64, error) {
	if email == "" {
		return 0, 0, nil
	}
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		count := 0
		spent := 0.0
		for _, o := range s.memByID {
			if strings.EqualFold(o.CustomerEmail, email) {
				count++
				spent += o.Total
			}
		}
		return count, round2(spent), nil
	}

	var count int
	var spent sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total), 0) FROM sb_orders WHERE LOWER(customer_email) = LOWER($1)`,
		email,
	).Scan(&count, &spent)
	if err != nil {
		return 0, 0, err
	}
	return count, round2(spent.Float64), nil
}

// ---------------------------------------------------------------------------
// List cache
// ---------------------------------------------------------------------------

func (s *orderStore) getListCache(status string, limit int) (orderListResponse, bool) {
	key := fmt.Sprintf("%s|%d", status, limit)
	s.cacheMu.RLock()
	item, ok := s.listCache[key]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(item.Expires) {
		return orderListResponse{}, false
	}
	return item.Response, true
}

func (s *orderStore) setListCache(status string, limit int, value orderListResponse) {
	key := fmt.Sprintf("%s|%d", status, limit)
	s.cacheMu.Lock()
	s.listCache[key] = cacheItem{Response: value, Expires: time.Now().Add(s.cacheTTL)}
	s.cacheMu.Unlock()
}

func (s *orderStore) invalidateCache() {
	s.cacheMu.Lock()
	s.listCache = make(map[string]cacheItem)
	s.cacheMu.Unlock()
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

func parseCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", errors.New("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid cursor id")
	}
	return time.Unix(0, n).UTC(), parts[1], nil
}

func encodeCursor(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
