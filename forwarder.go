package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Sheet forwarder
// ---------------------------------------------------------------------------

// sheetRecord is the flat row shape the spreadsheet webhook expects.
type sheetRecord struct {
	OrderID         string  `json:"order_id"`
	Date            string  `json:"date"`
	CustomerName    string  `json:"customer_name"`
	CustomerEmail   string  `json:"customer_email"`
	Phone           string  `json:"phone"`
	Items           string  `json:"items"`
	Subtotal        float64 `json:"subtotal"`
	Shipping        float64 `json:"shipping"`
	Tax             float64 `json:"tax"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
	ShippingAddress string  `json:"shipping_address"`
	Status          string  `json:"status"`
}

func buildSheetRecord(o order) sheetRecord {
	return sheetRecord{
		OrderID:         o.ID,
		Date:            o.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		Phone:           o.Phone,
		Items:           itemsSummary(o.Items),
		Subtotal:        o.Subtotal,
		Shipping:        o.Shipping,
		Tax:             o.Tax,
		Total:           o.Total,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		Status:          o.Status,
	}
}

// itemsSummary flattens line items into the human-readable column the sheet
// shows ("Galaxy Projector x1, LED Strip Lights x2").
func itemsSummary(items []orderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	return strings.Join(parts, ", ")
}

type sheetForwarder struct {
	url    string
	client *http.Client
}

func newSheetForwarder(url string) *sheetForwarder {
	return &sheetForwarder{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// send posts a pre-rendered record to the sheet webhook. An unconfigured URL
// degrades to a logged skip; delivery failures come back as errors so the
// outbox worker can retry them.
func (f *sheetForwarder) send(ctx context.Context, payload []byte) error {
	if f.url == "" {
		log.Printf("sheet forward skipped: SHEET_WEBHOOK_URL not configured")
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("sheet forward: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sheet forward: unexpected status %d", resp.StatusCode)
	}
	return nil
}
