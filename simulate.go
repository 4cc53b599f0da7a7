package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Sample data
// ---------------------------------------------------------------------------

type sampleCustomer struct {
	Name  string
	Email string
	Phone string
}

var sampleCustomers = []sampleCustomer{
	{"John Smith", "john.smith@example.com", "+1-555-0101"},
	{"Sarah Johnson", "sarah.j@example.com", "+1-555-0102"},
	{"Mike Williams", "mike.w@example.com", "+1-555-0103"},
	{"Emily Brown", "emily.b@example.com", "+1-555-0104"},
	{"David Lee", "david.lee@example.com", "+1-555-0105"},
	{"Jessica Davis", "jess.d@example.com", "+1-555-0106"},
	{"Chris Miller", "chris.m@example.com", "+1-555-0107"},
	{"Amanda Wilson", "amanda.w@example.com", "+1-555-0108"},
}

var sampleAddresses = []string{
	"123 Main St, New York, NY 10001, USA",
	"456 Oak Ave, Los Angeles, CA 90001, USA",
	"789 Pine Rd, Chicago, IL 60601, USA",
	"321 Elm St, Houston, TX 77001, USA",
	"654 Maple Dr, Phoenix, AZ 85001, USA",
	"987 Cedar Ln, Philadelphia, PA 19101, USA",
	"147 Birch Ct, San Antonio, TX 78201, USA",
	"258 Walnut Way, San Diego, CA 92101, USA",
}

var sampleProducts = []orderItemContent{
	{ID: "galaxy-projector", Name: "Galaxy Projector", Price: 39.99},
	{ID: "led-strip-lights", Name: "LED Strip Lights", Price: 24.99},
	{ID: "posture-corrector", Name: "Posture Corrector", Price: 29.99},
	{ID: "pet-water-fountain", Name: "Pet Water Fountain", Price: 34.99},
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

func generateSampleEvent(rng *rand.Rand) eventEnvelope {
	customer := sampleCustomers[rng.Intn(len(sampleCustomers))]
	address := sampleAddresses[rng.Intn(len(sampleAddresses))]

	numItems := 1 + rng.Intn(3)
	picked := rng.Perm(len(sampleProducts))[:numItems]

	items := make([]orderItemContent, 0, numItems)
	subtotal := 0.0
	for _, idx := range picked {
		p := sampleProducts[idx]
		p.SKU = p.ID
		p.Quantity = 1 + rng.Intn(2)
		items = append(items, p)
		subtotal += p.Price * float64(p.Quantity)
	}

	shipping := 4.99
	if subtotal >= 50 {
		shipping = 0
	}
	tax := round2(subtotal * 0.08)
	total := round2(subtotal + shipping + tax)

	content := orderCompletedContent{
		Token:               newOrderID(),
		Email:               customer.Email,
		BillingAddressName:  customer.Name,
		BillingAddressPhone: customer.Phone,
		ShippingAddress:     address,
		PaymentMethod:       "paypal",
		Currency:            "USD",
		ItemsTotal:          round2(subtotal),
		ShippingFees:        shipping,
		TaxesTotal:          tax,
		GrandTotal:          total,
		Items:               items,
	}

	raw, _ := json.Marshal(content)
	return eventEnvelope{EventName: eventOrderCompleted, Content: raw}
}

// ---------------------------------------------------------------------------
// Simulation
// ---------------------------------------------------------------------------

// runSimulation pushes generated order.completed events either at a remote
// webhook URL or straight through the local pipeline, then drains the outbox
// once so effects are attempted immediately.
func runSimulation(ctx context.Context, svc *service, count int, webhookURL string) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 10 * time.Second}

	totalRevenue := 0.0
	delivered := 0
	for i := 0; i < count; i++ {
		env := generateSampleEvent(rng)
		var content orderCompletedContent
		_ = json.Unmarshal(env.Content, &content)

		fmt.Printf("order %d/%d: %s  %s  $%.2f\n", i+1, count, content.Token, content.Email, content.GrandTotal)
		totalRevenue += content.GrandTotal

		if webhookURL != "" {
			body, err := json.Marshal(env)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("  webhook delivery failed: %v\n", err)
				continue
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				delivered++
			} else {
				fmt.Printf("  webhook returned status %d\n", resp.StatusCode)
			}
			continue
		}

		result, err := svc.processOrderCompleted(ctx, content, "127.0.0.1")
		if err != nil {
			return err
		}
		fmt.Printf("  ingested with effects: %v\n", result.Effects)
		delivered++
	}

	if webhookURL == "" {
		n, err := svc.outbox.processDue(ctx, svc.deliverEffect)
		if err != nil {
			return err
		}
		fmt.Printf("outbox: delivered %d effect(s)\n", n)
	}

	fmt.Printf("simulated %d order(s), %d delivered, $%.2f total revenue\n", count, delivered, totalRevenue)
	return nil
}
