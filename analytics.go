package main

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

type dayBucket struct {
	Orders    int     `json:"orders"`
	Revenue   float64 `json:"revenue"`
	ItemsSold int     `json:"items_sold"`
}

type productSales struct {
	Name    string  `json:"name"`
	Sold    int     `json:"sold"`
	Revenue float64 `json:"revenue"`
}

type lifetimeTotals struct {
	Orders    int     `json:"orders"`
	Revenue   float64 `json:"revenue"`
	ItemsSold int     `json:"items_sold"`
}

type topProduct struct {
	SKU     string  `json:"sku"`
	Name    string  `json:"name"`
	Sold    int     `json:"sold"`
	Revenue float64 `json:"revenue"`
}

type dailyRevenuePoint struct {
	Date    string  `json:"date"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

type analyticsSummary struct {
	TotalOrders   int                 `json:"total_orders"`
	TotalRevenue  float64             `json:"total_revenue"`
	ItemsSold     int                 `json:"items_sold"`
	AvgOrderValue float64             `json:"avg_order_value"`
	TopProducts   []topProduct        `json:"top_products"`
	DailyRevenue  []dailyRevenuePoint `json:"daily_revenue"`
	ByStatus      map[string]int      `json:"orders_by_status,omitempty"`
}

// salesAggregates tracks per-day counters, lifetime totals and per-SKU sales.
// Counters are additive on every completed order. Refunds do NOT decrement
// revenue; that mirrors what the storefront has always reported, even though
// it very likely overstates revenue once refunds start happening.
type salesAggregates struct {
	db       *sql.DB
	mu       sync.RWMutex
	daily    map[string]dayBucket
	products map[string]productSales
	totals   lifetimeTotals
	now      func() time.Time
}

func newSalesAggregates(db *sql.DB) *salesAggregates {
	return &salesAggregates{
		db:       db,
		daily:    make(map[string]dayBucket),
		products: make(map[string]productSales),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *salesAggregates) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sb_sales_daily (
			day DATE PRIMARY KEY,
			orders INT NOT NULL DEFAULT 0,
			revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
			items_sold INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sb_sales_products (
			sku TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sold INT NOT NULL DEFAULT 0,
			revenue DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sb_sales_totals (
			id INT PRIMARY KEY DEFAULT 1,
			orders INT NOT NULL DEFAULT 0,
			revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
			items_sold INT NOT NULL DEFAULT 0
		)`,
		`INSERT INTO sb_sales_totals (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *salesAggregates) recordCompleted(ctx context.Context, o order) error {
	day := o.CreatedAt.UTC().Format("2006-01-02")
	itemsSold := 0
	for _, it := range o.Items {
		itemsSold += it.Quantity
	}
	if itemsSold == 0 {
		itemsSold = o.Quantity
	}

	if a.db == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		b := a.daily[day]
		b.Orders++
		b.Revenue = round2(b.Revenue + o.Total)
		b.ItemsSold += itemsSold
		a.daily[day] = b

		a.totals.Orders++
		a.totals.Revenue = round2(a.totals.Revenue + o.Total)
		a.totals.ItemsSold += itemsSold

		for _, it := range o.Items {
			sku := it.SKU
			if sku == "" {
				sku = it.Name
			}
			p := a.products[sku]
			p.Name = it.Name
			p.Sold += it.Quantity
			p.Revenue = round2(p.Revenue + float64(it.Quantity)*it.Price)
			a.products[sku] = p
		}
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sb_sales_daily (day, orders, revenue, items_sold) VALUES ($1, 1, $2, $3)
		ON CONFLICT (day) DO UPDATE SET orders = sb_sales_daily.orders + 1,
			revenue = sb_sales_daily.revenue + EXCLUDED.revenue,
			items_sold = sb_sales_daily.items_sold + EXCLUDED.items_sold`,
		day, o.Total, itemsSold,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sb_sales_totals SET orders = orders + 1, revenue = revenue + $1, items_sold = items_sold + $2 WHERE id = 1`,
		o.Total, itemsSold,
	); err != nil {
		return err
	}
	for _, it := range o.Items {
		sku := it.SKU
		if sku == "" {
			sku = it.Name
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sb_sales_products (sku, name, sold, revenue) VALUES ($1, $2, $3, $4)
			ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name,
				sold = sb_sales_products.sold + EXCLUDED.sold,
				revenue = sb_sales_products.revenue + EXCLUDED.revenue`,
			sku, it.Name, it.Quantity, float64(it.Quantity)*it.Price,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

func (a *salesAggregates) dailyWindow(ctx context.Context, days int) ([]dailyRevenuePoint, error) {
	end := a.now()
	points := make([]dailyRevenuePoint, 0, days)

	if a.db == nil {
		a.mu.RLock()
		defer a.mu.RUnlock()
		for i := days - 1; i >= 0; i-- {
			day := end.AddDate(0, 0, -i).Format("2006-01-02")
			b := a.daily[day]
			points = append(points, dailyRevenuePoint{Date: day, Orders: b.Orders, Revenue: b.Revenue})
		}
		return points, nil
	}

	start := end.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	rows, err := a.db.QueryContext(ctx,
		`SELECT day, orders, revenue FROM sb_sales_daily WHERE day >= $1 ORDER BY day`, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byDay := make(map[string]dailyRevenuePoint)
	for rows.Next() {
		var day time.Time
		var p dailyRevenuePoint
		if err := rows.Scan(&day, &p.Orders, &p.Revenue); err != nil {
			return nil, err
		}
		p.Date = day.Format("2006-01-02")
		byDay[p.Date] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := days - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i).Format("2006-01-02")
		p := byDay[day]
		p.Date = day
		points = append(points, p)
	}
	return points, nil
}

func (a *salesAggregates) summary(ctx context.Context) (analyticsSummary, error) {
	sum := analyticsSummary{}

	if a.db == nil {
		a.mu.RLock()
		sum.TotalOrders = a.totals.Orders
		sum.TotalRevenue = a.totals.Revenue
		sum.ItemsSold = a.totals.ItemsSold
		tops := make([]topProduct, 0, len(a.products))
		for sku, p := range a.products {
			tops = append(tops, topProduct{SKU: sku, Name: p.Name, Sold: p.Sold, Revenue: p.Revenue})
		}
		a.mu.RUnlock()
		sort.Slice(tops, func(i, j int) bool { return tops[i].Revenue > tops[j].Revenue })
		if len(tops) > 5 {
			tops = tops[:5]
		}
		sum.TopProducts = tops
	} else {
		err := a.db.QueryRowContext(ctx,
			`SELECT orders, revenue, items_sold FROM sb_sales_totals WHERE id = 1`,
		).Scan(&sum.TotalOrders, &sum.TotalRevenue, &sum.ItemsSold)
		if err != nil {
			return analyticsSummary{}, err
		}
		rows, err := a.db.QueryContext(ctx,
			`SELECT sku, name, sold, revenue FROM sb_sales_products ORDER BY revenue DESC LIMIT 5`)
		if err != nil {
			return analyticsSummary{}, err
		}
		defer rows.Close()
		for rows.Next() {
			var tp topProduct
			if err := rows.Scan(&tp.SKU, &tp.Name, &tp.Sold, &tp.Revenue); err != nil {
				return analyticsSummary{}, err
			}
			sum.TopProducts = append(sum.TopProducts, tp)
		}
		if err := rows.Err(); err != nil {
			return analyticsSummary{}, err
		}
	}

	sum.TotalRevenue = round2(sum.TotalRevenue)
	if sum.TotalOrders > 0 {
		sum.AvgOrderValue = round2(sum.TotalRevenue / float64(sum.TotalOrders))
	}
	daily, err := a.dailyWindow(ctx, 7)
	if err != nil {
		return analyticsSummary{}, err
	}
	sum.DailyRevenue = daily
	return sum, nil
}
