package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestItemsSummary(t *testing.T) {
	items := []orderItem{
		{Name: "Galaxy Projector", Quantity: 1},
		{Name: "LED Strip Lights", Quantity: 2},
	}
	got := itemsSummary(items)
	want := "Galaxy Projector x1, LED Strip Lights x2"
	if got != want {
		t.Fatalf("itemsSummary mismatch: got %q want %q", got, want)
	}
	if itemsSummary(nil) != "" {
		t.Fatalf("empty items should render empty, got %q", itemsSummary(nil))
	}
}

func TestBuildSheetRecord(t *testing.T) {
	created := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	o := order{
		ID:              "SB-1",
		CreatedAt:       created,
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		Items:           []orderItem{{Name: "Blue T-Shirt", Quantity: 2, Price: 4}},
		Subtotal:        8,
		Shipping:        4.99,
		Tax:             0.01,
		Total:           13,
		Currency:        "USD",
		ShippingAddress: "42 Elm Street",
		Status:          "confirmed",
	}

	rec := buildSheetRecord(o)
	if rec.OrderID != "SB-1" {
		t.Fatalf("unexpected order id: %q", rec.OrderID)
	}
	if rec.Date != "2025-06-01 14:30:00" {
		t.Fatalf("unexpected date format: %q", rec.Date)
	}
	if rec.Items != "Blue T-Shirt x2" {
		t.Fatalf("unexpected items column: %q", rec.Items)
	}
	if rec.Total != 13 || rec.Shipping != 4.99 {
		t.Fatalf("unexpected monetary columns: %+v", rec)
	}
}

func TestSendSkipsWhenUnconfigured(t *testing.T) {
	f := newSheetForwarder("")
	if err := f.send(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("unconfigured forwarder must be a no-op, got %v", err)
	}
}

func TestSendPostsPayload(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newSheetForwarder(srv.URL)
	payload, _ := json.Marshal(buildSheetRecord(order{ID: "SB-1", Currency: "USD", Status: "confirmed"}))
	if err := f.send(context.Background(), payload); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %q", gotContentType)
	}
	var rec sheetRecord
	if err := json.Unmarshal(gotBody, &rec); err != nil {
		t.Fatalf("posted body is not a sheet record: %v", err)
	}
	if rec.OrderID != "SB-1" {
		t.Fatalf("unexpected posted order id: %q", rec.OrderID)
	}
}

func TestSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newSheetForwarder(srv.URL)
	if err := f.send(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error on 502 so the outbox retries")
	}
}
