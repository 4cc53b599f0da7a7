package main

import (
	"context"
	"strings"
	"testing"
)

func confirmationOrder() order {
	return order{
		ID:              "SB-1",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		Items:           []orderItem{{Name: "Blue T-Shirt", Quantity: 2, Price: 4}},
		Subtotal:        8,
		Shipping:        4.99,
		Tax:             0.01,
		Total:           13,
		Currency:        "USD",
		ShippingAddress: "42 Elm Street, Springfield, IL 62704",
	}
}

func TestCustomerConfirmationMail(t *testing.T) {
	msg, err := customerConfirmationMail("SellBuddy", confirmationOrder())
	if err != nil {
		t.Fatalf("customerConfirmationMail returned error: %v", err)
	}
	if msg.To != "jane@example.com" {
		t.Fatalf("unexpected recipient: %q", msg.To)
	}
	if msg.Subject != "Order Confirmed! #SB-1 - SellBuddy" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	for _, want := range []string{"Jane Doe", "#SB-1", "Blue T-Shirt", "$13.00", "42 Elm Street"} {
		if !strings.Contains(msg.HTML, want) {
			t.Fatalf("confirmation HTML missing %q", want)
		}
	}
}

func TestOwnerNotificationIncludesRiskFlags(t *testing.T) {
	o := confirmationOrder()
	o.RiskFlags = []string{"Fraud risk: medium"}

	msg := ownerNotificationMail("SellBuddy", "owner@example.com", o)
	if msg.To != "owner@example.com" {
		t.Fatalf("unexpected recipient: %q", msg.To)
	}
	if !strings.Contains(msg.Text, "Fraud risk: medium") {
		t.Fatalf("owner mail should surface risk flags, got:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "Blue T-Shirt x2") {
		t.Fatalf("owner mail should list items, got:\n%s", msg.Text)
	}
}

func TestShippingNoticeFallsBackToGenericGreeting(t *testing.T) {
	o := confirmationOrder()
	o.CustomerName = ""

	msg := shippingNoticeMail("SellBuddy", o)
	if !strings.Contains(msg.Text, "Hi there,") {
		t.Fatalf("expected generic greeting, got:\n%s", msg.Text)
	}
	if msg.Subject != "Your order #SB-1 has shipped!" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
}

func TestSupplierOrderMailOmitsPricing(t *testing.T) {
	d := routeOrder(defaultSuppliers(), confirmationOrder(), "Bronze")
	sup, ok := defaultSuppliers().byID(d.SupplierID)
	if !ok {
		t.Fatalf("supplier %q not in catalog", d.SupplierID)
	}

	msg := supplierOrderMail(confirmationOrder(), d, sup)
	if msg.To != sup.Email {
		t.Fatalf("unexpected recipient: %q", msg.To)
	}
	// The supplier sees items and destination, never what the customer paid.
	if strings.Contains(msg.Text, "$13") {
		t.Fatalf("supplier mail must not leak retail pricing:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "42 Elm Street") {
		t.Fatalf("supplier mail should include the destination:\n%s", msg.Text)
	}
}

func TestBuildMIMEPrefersHTML(t *testing.T) {
	mime := string(buildMIME("orders@sellbuddy.example", mailMessage{
		To: "jane@example.com", Subject: "Hello", HTML: "<p>Hi</p>", Text: "hi",
	}))
	if !strings.Contains(mime, "Content-Type: text/html") {
		t.Fatalf("expected HTML content type, got:\n%s", mime)
	}
	if !strings.Contains(mime, "Subject: Hello\r\n") {
		t.Fatalf("expected subject header, got:\n%s", mime)
	}

	mime = string(buildMIME("orders@sellbuddy.example", mailMessage{To: "x@y", Text: "plain"}))
	if !strings.Contains(mime, "Content-Type: text/plain") {
		t.Fatalf("expected plain content type, got:\n%s", mime)
	}
}

func TestUnconfiguredSenderSkips(t *testing.T) {
	s := newSMTPSender("", "587", "", "", "orders@sellbuddy.example")
	if err := s.send(context.Background(), mailMessage{To: "jane@example.com", Subject: "x"}); err != nil {
		t.Fatalf("unconfigured sender must be a no-op, got %v", err)
	}
}
