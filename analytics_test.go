package main

import (
	"context"
	"testing"
	"time"
)

func TestRecordCompletedAccumulates(t *testing.T) {
	a := newSalesAggregates(nil)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	first := order{
		ID:        "SB-1",
		CreatedAt: day,
		Total:     29.99,
		Quantity:  2,
		Items: []orderItem{
			{Name: "Galaxy Projector", Quantity: 1, Price: 25, SKU: "proj-1"},
			{Name: "LED Strip Lights", Quantity: 1, Price: 4.99, SKU: "led-1"},
		},
	}
	second := order{
		ID:        "SB-2",
		CreatedAt: day.Add(2 * time.Hour),
		Total:     25,
		Quantity:  1,
		Items:     []orderItem{{Name: "Galaxy Projector", Quantity: 1, Price: 25, SKU: "proj-1"}},
	}
	if err := a.recordCompleted(ctx, first); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}
	if err := a.recordCompleted(ctx, second); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}

	a.now = func() time.Time { return day.Add(3 * time.Hour) }
	sum, err := a.summary(ctx)
	if err != nil {
		t.Fatalf("summary returned error: %v", err)
	}
	if sum.TotalOrders != 2 {
		t.Fatalf("expected 2 orders, got %d", sum.TotalOrders)
	}
	if sum.TotalRevenue != 54.99 {
		t.Fatalf("expected revenue 54.99, got %v", sum.TotalRevenue)
	}
	if sum.ItemsSold != 3 {
		t.Fatalf("expected 3 items sold, got %d", sum.ItemsSold)
	}
	if sum.AvgOrderValue != 27.5 {
		t.Fatalf("expected AOV 27.50, got %v", sum.AvgOrderValue)
	}
}

func TestSummaryTopProductsRankedByRevenue(t *testing.T) {
	a := newSalesAggregates(nil)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	o := order{
		ID:        "SB-1",
		CreatedAt: day,
		Total:     70,
		Items: []orderItem{
			{Name: "Galaxy Projector", Quantity: 2, Price: 25, SKU: "proj-1"},
			{Name: "LED Strip Lights", Quantity: 4, Price: 5, SKU: "led-1"},
		},
	}
	if err := a.recordCompleted(ctx, o); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}

	a.now = func() time.Time { return day }
	sum, err := a.summary(ctx)
	if err != nil {
		t.Fatalf("summary returned error: %v", err)
	}
	if len(sum.TopProducts) != 2 {
		t.Fatalf("expected 2 products, got %d", len(sum.TopProducts))
	}
	if sum.TopProducts[0].SKU != "proj-1" {
		t.Fatalf("expected proj-1 ranked first by revenue, got %q", sum.TopProducts[0].SKU)
	}
	if sum.TopProducts[0].Revenue != 50 {
		t.Fatalf("expected revenue 50 for proj-1, got %v", sum.TopProducts[0].Revenue)
	}
	if sum.TopProducts[1].Sold != 4 {
		t.Fatalf("expected 4 sold for led-1, got %d", sum.TopProducts[1].Sold)
	}
}

func TestDailyWindowCoversSevenDays(t *testing.T) {
	a := newSalesAggregates(nil)
	ctx := context.Background()
	now := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	// One order today, one three days back.
	if err := a.recordCompleted(ctx, order{ID: "SB-1", CreatedAt: now, Total: 10, Quantity: 1}); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}
	if err := a.recordCompleted(ctx, order{ID: "SB-2", CreatedAt: now.AddDate(0, 0, -3), Total: 20, Quantity: 1}); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}

	points, err := a.dailyWindow(ctx, 7)
	if err != nil {
		t.Fatalf("dailyWindow returned error: %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}
	if points[0].Date != "2025-06-01" || points[6].Date != "2025-06-07" {
		t.Fatalf("unexpected window bounds: %s .. %s", points[0].Date, points[6].Date)
	}
	if points[6].Revenue != 10 || points[6].Orders != 1 {
		t.Fatalf("unexpected today bucket: %+v", points[6])
	}
	if points[3].Revenue != 20 {
		t.Fatalf("unexpected backfilled bucket: %+v", points[3])
	}
	if points[1].Revenue != 0 || points[1].Orders != 0 {
		t.Fatalf("empty days must be zero-filled: %+v", points[1])
	}
}

func TestItemsSoldFallsBackToOrderQuantity(t *testing.T) {
	a := newSalesAggregates(nil)
	ctx := context.Background()

	o := order{ID: "SB-1", CreatedAt: time.Now().UTC(), Total: 15, Quantity: 3}
	if err := a.recordCompleted(ctx, o); err != nil {
		t.Fatalf("recordCompleted returned error: %v", err)
	}
	if a.totals.ItemsSold != 3 {
		t.Fatalf("orders without line items should use the quantity field, got %d", a.totals.ItemsSold)
	}
}
