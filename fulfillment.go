package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Supplier catalog
// ---------------------------------------------------------------------------

type supplier struct {
	ID              string  `yaml:"id" json:"id"`
	Name            string  `yaml:"name" json:"name"`
	Email           string  `yaml:"email" json:"email"`
	AvgShippingDays int     `yaml:"avg_shipping_days" json:"avg_shipping_days"`
	Reliability     float64 `yaml:"reliability" json:"reliability"`
	CostMultiplier  float64 `yaml:"cost_multiplier" json:"cost_multiplier"`
	MinOrder        float64 `yaml:"min_order" json:"min_order"`
}

type supplierCatalog []supplier

type supplierFile struct {
	Suppliers []supplier `yaml:"suppliers"`
}

func defaultSuppliers() supplierCatalog {
	return supplierCatalog{
		{ID: "fastship-china", Name: "FastShip China", Email: "orders@fastship-china.example", AvgShippingDays: 12, Reliability: 0.92, CostMultiplier: 0.35},
		{ID: "qualitygoods-express", Name: "QualityGoods Express", Email: "fulfillment@qualitygoods.example", AvgShippingDays: 8, Reliability: 0.95, CostMultiplier: 0.40, MinOrder: 20},
		{ID: "budget-bulk", Name: "Budget Bulk", Email: "sales@budgetbulk.example", AvgShippingDays: 18, Reliability: 0.85, CostMultiplier: 0.28},
	}
}

// loadSuppliers reads a YAML supplier catalog; an empty path keeps the
// built-in defaults.
func loadSuppliers(path string) (supplierCatalog, error) {
	if path == "" {
		return defaultSuppliers(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suppliers file: %w", err)
	}
	var f supplierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse suppliers file: %w", err)
	}
	if len(f.Suppliers) == 0 {
		return nil, fmt.Errorf("suppliers file %s lists no suppliers", path)
	}
	return supplierCatalog(f.Suppliers), nil
}

func (c supplierCatalog) byID(id string) (supplier, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return supplier{}, false
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

const (
	priorityStandard = "standard"
	priorityExpress  = "express"
	priorityVIP      = "vip"

	minAcceptableMargin = 0.30
)

type fulfillmentDecision struct {
	OrderID         string   `json:"order_id"`
	SupplierID      string   `json:"supplier_id"`
	BackupID        string   `json:"backup_id"`
	Priority        string   `json:"priority"`
	EstimatedCost   float64  `json:"estimated_cost"`
	EstimatedProfit float64  `json:"estimated_profit"`
	Margin          float64  `json:"margin"`
	ShippingMethod  string   `json:"shipping_method"`
	DeliveryDays    int      `json:"delivery_days"`
	Reasoning       []string `json:"reasoning"`
}

func customerTier(orders int, spent float64) string {
	switch {
	case spent >= 500:
		return "VIP"
	case spent >= 200:
		return "Gold"
	case spent >= 100:
		return "Silver"
	default:
		return "Bronze"
	}
}

// routeOrder scores every supplier for the order and picks the best plus a
// backup. The score balances reliability, cost efficiency and speed, with
// speed weighted up for VIP/express orders.
func routeOrder(catalog supplierCatalog, o order, tier string) fulfillmentDecision {
	priority := priorityStandard
	switch {
	case tier == "VIP":
		priority = priorityVIP
	case tier == "Gold":
		priority = priorityExpress
	}

	type scored struct {
		sup   supplier
		score float64
	}
	ranked := make([]scored, 0, len(catalog))
	for _, sup := range catalog {
		ranked = append(ranked, scored{sup: sup, score: scoreSupplier(sup, priority, o.Total)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	best := ranked[0].sup
	backup := best
	if len(ranked) > 1 {
		backup = ranked[1].sup
	}

	cogs := o.Total * best.CostMultiplier
	shippingCost := 2.50
	if priority != priorityStandard {
		shippingCost = 5.00
	}
	totalCost := round2(cogs + shippingCost)
	profit := round2(o.Total - totalCost)
	margin := 0.0
	if o.Total > 0 {
		margin = profit / o.Total
	}

	method := "Standard ePacket"
	days := best.AvgShippingDays
	if priority != priorityStandard {
		method = "Express ePacket"
		days = best.AvgShippingDays - 3
	}

	reasoning := []string{
		fmt.Sprintf("selected %s (reliability %.0f%%)", best.Name, best.Reliability*100),
		fmt.Sprintf("estimated COGS $%.2f", cogs),
		fmt.Sprintf("projected margin %.1f%%", margin*100),
		fmt.Sprintf("priority %s", priority),
	}
	if margin < minAcceptableMargin {
		reasoning = append(reasoning, fmt.Sprintf("margin below %.0f%% floor", minAcceptableMargin*100))
	}

	return fulfillmentDecision{
		OrderID:         o.ID,
		SupplierID:      best.ID,
		BackupID:        backup.ID,
		Priority:        priority,
		EstimatedCost:   totalCost,
		EstimatedProfit: profit,
		Margin:          margin,
		ShippingMethod:  method,
		DeliveryDays:    days,
		Reasoning:       reasoning,
	}
}

func scoreSupplier(sup supplier, priority string, total float64) float64 {
	score := 50.0
	score += sup.Reliability * 30
	score += (1 - sup.CostMultiplier) * 25

	speedWeight := 10.0
	if priority != priorityStandard {
		speedWeight = 20.0
	}
	speed := (1 - float64(sup.AvgShippingDays)/25) * speedWeight
	if speed > 0 {
		score += speed
	}

	if total < sup.MinOrder {
		score -= 50
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
