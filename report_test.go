package main

import (
	"strings"
	"testing"
	"time"
)

func reportSummary() analyticsSummary {
	return analyticsSummary{
		TotalOrders:   3,
		TotalRevenue:  96.97,
		ItemsSold:     5,
		AvgOrderValue: 32.32,
		TopProducts: []topProduct{
			{SKU: "proj-1", Name: "Galaxy Projector", Sold: 2, Revenue: 59.98},
			{SKU: "led-1", Name: "LED Strip Lights", Sold: 3, Revenue: 36.99},
		},
		DailyRevenue: []dailyRevenuePoint{
			{Date: "2025-06-06", Orders: 1, Revenue: 29.99},
			{Date: "2025-06-07", Orders: 2, Revenue: 66.98},
		},
		ByStatus: map[string]int{"confirmed": 2, "Shipped": 1},
	}
}

func TestRenderDailyReport(t *testing.T) {
	now := time.Date(2025, 6, 7, 8, 0, 0, 0, time.UTC)
	text := renderDailyReport("SellBuddy", now, reportSummary(), orderStats{
		Revenue: 96.97, OrdersCount: 3, LastOrder: "2025-06-07 07:42:10",
	})

	for _, want := range []string{
		"SELLBUDDY DAILY ORDER REPORT - 2025-06-07",
		"Total Orders:        3",
		"Total Revenue:       $96.97",
		"Last Order:          2025-06-07 07:42:10",
		"Galaxy Projector: 2 units, $59.98",
		"2025-06-07    2 orders  $66.98",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}

	// Status breakdown is sorted for stable output.
	shippedIdx := strings.Index(text, "Shipped")
	confirmedIdx := strings.Index(text, "confirmed")
	if shippedIdx == -1 || confirmedIdx == -1 || shippedIdx > confirmedIdx {
		t.Fatalf("expected Shipped listed before confirmed:\n%s", text)
	}
}

func TestRenderDashboard(t *testing.T) {
	now := time.Date(2025, 6, 7, 8, 0, 0, 0, time.UTC)
	html, err := renderDashboard("SellBuddy", now, reportSummary())
	if err != nil {
		t.Fatalf("renderDashboard returned error: %v", err)
	}

	for _, want := range []string{
		"SellBuddy - Analytics Dashboard",
		"$96.97",
		`["06-06","06-07"]`,
		"[29.99,66.98]",
		"Galaxy Projector",
		"Updated: June 7, 2025",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("dashboard missing %q", want)
		}
	}
}
