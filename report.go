package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Daily report
// ---------------------------------------------------------------------------

func renderDailyReport(storeName string, now time.Time, sum analyticsSummary, stats orderStats) string {
	line := strings.Repeat("=", 72)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "%s DAILY ORDER REPORT - %s\n", strings.ToUpper(storeName), now.Format("2006-01-02"))
	fmt.Fprintf(&b, "%s\n\n", line)

	fmt.Fprintf(&b, "SUMMARY\n-------\n")
	fmt.Fprintf(&b, "Total Orders:        %d\n", sum.TotalOrders)
	fmt.Fprintf(&b, "Total Revenue:       $%.2f\n", sum.TotalRevenue)
	fmt.Fprintf(&b, "Items Sold:          %d\n", sum.ItemsSold)
	fmt.Fprintf(&b, "Average Order Value: $%.2f\n", sum.AvgOrderValue)
	if stats.LastOrder != "" {
		fmt.Fprintf(&b, "Last Order:          %s\n", stats.LastOrder)
	}

	if len(sum.ByStatus) > 0 {
		fmt.Fprintf(&b, "\nORDER STATUS\n------------\n")
		statuses := make([]string, 0, len(sum.ByStatus))
		for status := range sum.ByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Fprintf(&b, "  %-12s %d\n", status, sum.ByStatus[status])
		}
	}

	if len(sum.TopProducts) > 0 {
		fmt.Fprintf(&b, "\nTOP PRODUCTS\n------------\n")
		for _, p := range sum.TopProducts {
			fmt.Fprintf(&b, "  %s: %d units, $%.2f\n", p.Name, p.Sold, p.Revenue)
		}
	}

	if len(sum.DailyRevenue) > 0 {
		fmt.Fprintf(&b, "\nREVENUE (LAST 7 DAYS)\n---------------------\n")
		for _, d := range sum.DailyRevenue {
			fmt.Fprintf(&b, "  %s  %3d orders  $%.2f\n", d.Date, d.Orders, d.Revenue)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", line)
	return b.String()
}

// ---------------------------------------------------------------------------
// HTML dashboard
// ---------------------------------------------------------------------------

type dashboardData struct {
	StoreName   string
	UpdatedAt   string
	Summary     analyticsSummary
	ChartLabels template.JS
	ChartValues template.JS
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.StoreName}} - Analytics Dashboard</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'Segoe UI', sans-serif; background: #f5f5f5; padding: 20px; }
  .container { max-width: 1200px; margin: 0 auto; }
  header { background: linear-gradient(135deg, #6366f1, #4f46e5); color: white; padding: 30px; border-radius: 12px; margin-bottom: 30px; }
  .metrics-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 20px; margin-bottom: 30px; }
  .metric-card { background: white; padding: 25px; border-radius: 12px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
  .metric-card h3 { color: #6b7280; font-size: 14px; margin-bottom: 10px; }
  .metric-card .value { font-size: 32px; font-weight: 700; color: #1f2937; }
  .metric-card .positive { color: #10b981; }
  .card { background: white; border-radius: 12px; padding: 25px; margin-bottom: 25px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
  .card h2 { color: #1f2937; margin-bottom: 20px; }
  table { width: 100%; border-collapse: collapse; }
  th, td { padding: 12px; text-align: left; border-bottom: 1px solid #e5e7eb; }
  th { background: #f9fafb; font-weight: 600; }
  .chart-container { height: 300px; }
  .two-col { display: grid; grid-template-columns: 1fr 1fr; gap: 25px; }
  @media (max-width: 768px) { .two-col { grid-template-columns: 1fr; } }
  footer { text-align: center; color: #6b7280; margin-top: 30px; }
</style>
</head>
<body>
<div class="container">
  <header>
    <h1>Analytics Dashboard</h1>
    <p>Updated: {{.UpdatedAt}} | {{.StoreName}} Store Performance</p>
  </header>

  <div class="metrics-grid">
    <div class="metric-card"><h3>TOTAL ORDERS</h3><div class="value">{{.Summary.TotalOrders}}</div></div>
    <div class="metric-card"><h3>TOTAL REVENUE</h3><div class="value positive">${{printf "%.2f" .Summary.TotalRevenue}}</div></div>
    <div class="metric-card"><h3>ITEMS SOLD</h3><div class="value">{{.Summary.ItemsSold}}</div></div>
    <div class="metric-card"><h3>AVG ORDER VALUE</h3><div class="value">${{printf "%.2f" .Summary.AvgOrderValue}}</div></div>
  </div>

  <div class="two-col">
    <div class="card">
      <h2>Revenue (Last 7 Days)</h2>
      <div class="chart-container"><canvas id="revenueChart"></canvas></div>
    </div>
    <div class="card">
      <h2>Top Products</h2>
      <table>
        <thead><tr><th>Product</th><th>Units</th><th>Revenue</th></tr></thead>
        <tbody>
        {{range .Summary.TopProducts}}
          <tr><td>{{.Name}}</td><td>{{.Sold}}</td><td>${{printf "%.2f" .Revenue}}</td></tr>
        {{end}}
        </tbody>
      </table>
    </div>
  </div>

  <footer><p>{{.StoreName}} Analytics Dashboard | Auto-refreshes daily</p></footer>
</div>

<script>
  const ctx = document.getElementById('revenueChart').getContext('2d');
  new Chart(ctx, {
    type: 'line',
    data: {
      labels: {{.ChartLabels}},
      datasets: [{
        label: 'Revenue ($)',
        data: {{.ChartValues}},
        borderColor: '#6366f1',
        backgroundColor: 'rgba(99, 102, 241, 0.1)',
        fill: true,
        tension: 0.4
      }]
    },
    options: {
      responsive: true,
      maintainAspectRatio: false,
      plugins: { legend: { display: false } },
      scales: { y: { beginAtZero: true } }
    }
  });
</script>
</body>
</html>`))

func renderDashboard(storeName string, now time.Time, sum analyticsSummary) (string, error) {
	labels := make([]string, 0, len(sum.DailyRevenue))
	values := make([]float64, 0, len(sum.DailyRevenue))
	for _, d := range sum.DailyRevenue {
		// Short MM-DD labels keep the x axis readable.
		label := d.Date
		if len(label) >= 5 {
			label = label[len(label)-5:]
		}
		labels = append(labels, label)
		values = append(values, d.Revenue)
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return "", err
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = dashboardTmpl.Execute(&buf, dashboardData{
		StoreName:   storeName,
		UpdatedAt:   now.Format("January 2, 2006"),
		Summary:     sum,
		ChartLabels: template.JS(labelsJSON),
		ChartValues: template.JS(valuesJSON),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
