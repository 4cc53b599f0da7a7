package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerTier(t *testing.T) {
	assert.Equal(t, "Bronze", customerTier(0, 0))
	assert.Equal(t, "Silver", customerTier(2, 150))
	assert.Equal(t, "Gold", customerTier(3, 200))
	assert.Equal(t, "VIP", customerTier(10, 750))
}

func TestRouteOrderPicksBestSupplier(t *testing.T) {
	catalog := defaultSuppliers()
	o := order{ID: "SB-1", Total: 100}

	d := routeOrder(catalog, o, "Bronze")

	assert.Equal(t, "qualitygoods-express", d.SupplierID)
	assert.NotEqual(t, d.SupplierID, d.BackupID)
	assert.Equal(t, priorityStandard, d.Priority)
	assert.Equal(t, "Standard ePacket", d.ShippingMethod)
	assert.Equal(t, 42.50, d.EstimatedCost)
	assert.Equal(t, 57.50, d.EstimatedProfit)
	assert.InDelta(t, 0.575, d.Margin, 0.001)
	assert.NotEmpty(t, d.Reasoning)
}

func TestRouteOrderRespectsMinimumOrder(t *testing.T) {
	catalog := defaultSuppliers()
	o := order{ID: "SB-2", Total: 13}

	d := routeOrder(catalog, o, "Bronze")

	// qualitygoods-express has a $20 minimum, so the small order routes around it.
	assert.Equal(t, "fastship-china", d.SupplierID)
}

func TestRouteOrderVIPGetsExpressShipping(t *testing.T) {
	catalog := defaultSuppliers()
	o := order{ID: "SB-3", Total: 100}

	d := routeOrder(catalog, o, "VIP")

	assert.Equal(t, priorityVIP, d.Priority)
	assert.Equal(t, "Express ePacket", d.ShippingMethod)

	best, ok := catalog.byID(d.SupplierID)
	require.True(t, ok)
	assert.Equal(t, best.AvgShippingDays-3, d.DeliveryDays)
}

func TestRouteOrderLowMarginNoted(t *testing.T) {
	catalog := defaultSuppliers()
	o := order{ID: "SB-4", Total: 5}

	d := routeOrder(catalog, o, "Bronze")

	assert.Less(t, d.Margin, minAcceptableMargin)
	assert.Contains(t, d.Reasoning[len(d.Reasoning)-1], "margin below")
}

func TestLoadSuppliersFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suppliers.yaml")
	data := `suppliers:
  - id: acme
    name: Acme Wholesale
    email: orders@acme.example
    avg_shipping_days: 6
    reliability: 0.97
    cost_multiplier: 0.45
    min_order: 10
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	catalog, err := loadSuppliers(path)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "acme", catalog[0].ID)
	assert.Equal(t, 6, catalog[0].AvgShippingDays)
	assert.InDelta(t, 0.97, catalog[0].Reliability, 0.0001)

	sup, ok := catalog.byID("acme")
	assert.True(t, ok)
	assert.Equal(t, "Acme Wholesale", sup.Name)

	_, ok = catalog.byID("missing")
	assert.False(t, ok)
}

func TestLoadSuppliersDefaultsAndErrors(t *testing.T) {
	catalog, err := loadSuppliers("")
	require.NoError(t, err)
	assert.Len(t, catalog, 3)

	_, err = loadSuppliers(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("suppliers: []\n"), 0o644))
	_, err = loadSuppliers(empty)
	assert.Error(t, err)
}
