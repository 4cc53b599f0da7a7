package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Event envelope / union
// ---------------------------------------------------------------------------

const (
	eventOrderCompleted      = "order.completed"
	eventStatusChanged       = "order.status.changed"
	eventRefundCreated       = "order.refund.created"
	eventSubscriptionCreated = "subscription.created"
	eventCustomerUpdated     = "customauth:customer_updated"
)

type eventEnvelope struct {
	EventName string          `json:"eventName"`
	Content   json.RawMessage `json:"content"`
}

type orderItemContent struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	SKU      string  `json:"sku"`
}

type orderCompletedContent struct {
	Token               string             `json:"token"`
	InvoiceNumber       string             `json:"invoiceNumber"`
	Email               string             `json:"email"`
	BillingAddressName  string             `json:"billingAddressName"`
	BillingAddressPhone string             `json:"billingAddressPhone"`
	ShippingAddress     string             `json:"shippingAddress"`
	PaymentMethod       string             `json:"paymentMethod"`
	Currency            string             `json:"currency"`
	ItemsTotal          float64            `json:"itemsTotal"`
	ShippingFees        float64            `json:"shippingFees"`
	TaxesTotal          float64            `json:"taxesTotal"`
	GrandTotal          float64            `json:"grandTotal"`
	Items               []orderItemContent `json:"items"`
}

type statusChangedContent struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

type refundCreatedContent struct {
	Token string `json:"token"`
}

// webhookEvent is the closed union the envelope decodes into. The provider's
// event name is matched exactly once here; downstream code switches on the
// typed variant, never on the raw string.
type webhookEvent struct {
	Name          string
	Completed     *orderCompletedContent
	StatusChanged *statusChangedContent
	Refund        *refundCreatedContent
	Acknowledged  bool // known but stateless events (subscriptions, customer sync)
}

func decodeEvent(body []byte) (webhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return webhookEvent{}, errors.New("invalid JSON payload")
	}
	if strings.TrimSpace(env.EventName) == "" {
		return webhookEvent{}, errors.New("missing eventName")
	}

	evt := webhookEvent{Name: env.EventName}
	switch env.EventName {
	case eventOrderCompleted:
		var c orderCompletedContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return webhookEvent{}, errors.New("invalid order.completed content")
		}
		evt.Completed = &c
	case eventStatusChanged:
		var c statusChangedContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return webhookEvent{}, errors.New("invalid order.status.changed content")
		}
		evt.StatusChanged = &c
	case eventRefundCreated:
		var c refundCreatedContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return webhookEvent{}, errors.New("invalid order.refund.created content")
		}
		evt.Refund = &c
	case eventSubscriptionCreated, eventCustomerUpdated:
		evt.Acknowledged = true
	}
	return evt, nil
}

// ---------------------------------------------------------------------------
// Token verification
// ---------------------------------------------------------------------------

const requestTokenHeader = "X-Request-Token"

// tokenVerifier checks a request token against the payment provider's
// validation endpoint. With no secret configured verification is skipped
// entirely; that permissive mode is deliberate for local setups and is
// called out in the tests.
type tokenVerifier struct {
	secret        string
	validationURL string
	client        *http.Client
}

func newTokenVerifier(secret, validationURL string) *tokenVerifier {
	return &tokenVerifier{
		secret:        secret,
		validationURL: validationURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *tokenVerifier) verify(ctx context.Context, token string) error {
	if v.secret == "" {
		return nil
	}
	if token == "" {
		return errors.New("missing request token")
	}
	if v.validationURL == "" {
		return errors.New("VALIDATION_URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(v.validationURL, "/")+"/"+url.PathEscape(token), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+v.secret)
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("token validation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token validation: status %d", resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type webhookResponse struct {
	Success bool   `json:"success"`
	Event   string `json:"event,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type orderCompletedResult struct {
	OrderID string   `json:"orderId"`
	Effects []string `json:"effects"`
}

func (s *service) handleOrderWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, s.cfg.webhookLimit)
}

func (s *service) handleWebhook(w http.ResponseWriter, r *http.Request, limit int) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, webhookResponse{Error: "method not allowed"})
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(r.Context(), ip, limit) {
		log.Printf("security: rate limit exceeded for client %s", hashClientKey(ip))
		writeJSON(w, http.StatusTooManyRequests, webhookResponse{Error: "too many requests"})
		return
	}

	if err := s.verifier.verify(r.Context(), r.Header.Get(requestTokenHeader)); err != nil {
		log.Printf("security: webhook token rejected: %v", err)
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Error: "unauthorized"})
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "unreadable request body"})
		return
	}
	evt, err := decodeEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	switch {
	case evt.Completed != nil:
		result, err := s.processOrderCompleted(ctx, *evt.Completed, ip)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Event: evt.Name, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Name, Result: result})
	case evt.StatusChanged != nil:
		if err := s.processStatusChanged(ctx, *evt.StatusChanged); err != nil {
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Event: evt.Name, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Name,
			Result: map[string]string{"orderId": evt.StatusChanged.Token, "status": evt.StatusChanged.Status}})
	case evt.Refund != nil:
		if err := s.store.updateStatus(ctx, evt.Refund.Token, "refunded"); err != nil {
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Event: evt.Name, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Name,
			Result: map[string]string{"orderId": evt.Refund.Token, "status": "refunded"}})
	case evt.Acknowledged:
		log.Printf("webhook: acknowledged %s (no persistence)", evt.Name)
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Name, Result: "acknowledged"})
	default:
		log.Printf("webhook: unhandled event %q", evt.Name)
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Name, Result: "ignored"})
	}
}

// processOrderCompleted is the write path: build the order, score it, route
// fulfillment, persist, bump aggregates, then queue every downstream side
// effect. Persistence is authoritative; everything queued after it is
// best-effort with retries.
func (s *service) processOrderCompleted(ctx context.Context, c orderCompletedContent, ip string) (orderCompletedResult, error) {
	o := buildOrder(c)

	assessment := s.fraud.assess(o, ip)
	o.FraudScore = round2(assessment.Score)
	o.RiskFlags = assessment.Flags

	historyCount, historySpent, err := s.store.customerHistory(ctx, o.CustomerEmail)
	if err != nil {
		return orderCompletedResult{}, err
	}
	decision := routeOrder(s.suppliers, o, customerTier(historyCount, historySpent))
	if decision.Margin < minAcceptableMargin && o.Total > 0 {
		o.RiskFlags = append(o.RiskFlags, fmt.Sprintf("Low margin: %.1f%%", decision.Margin*100))
	}

	if err := s.store.recordOrder(ctx, o); err != nil {
		return orderCompletedResult{}, err
	}
	if err := s.sales.recordCompleted(ctx, o); err != nil {
		// Aggregates are derived data; the order itself is already safe.
		log.Printf("warn: analytics update failed for order %s: %v", o.ID, err)
	}

	effects := s.enqueueOrderEffects(ctx, o, decision)
	return orderCompletedResult{OrderID: o.ID, Effects: effects}, nil
}

func (s *service) enqueueOrderEffects(ctx context.Context, o order, decision fulfillmentDecision) []string {
	effects := make([]string, 0, 4)
	queue := func(kind effectKind, payload any) {
		if _, err := s.outbox.enqueue(ctx, o.ID, kind, payload); err != nil {
			log.Printf("warn: enqueue %s failed for order %s: %v", kind, o.ID, err)
			return
		}
		effects = append(effects, string(kind))
	}

	queue(effectSheetForward, buildSheetRecord(o))

	if o.CustomerEmail != "" {
		if msg, err := customerConfirmationMail(s.cfg.storeName, o); err != nil {
			log.Printf("warn: confirmation render failed for order %s: %v", o.ID, err)
		} else {
			queue(effectCustomerEmail, msg)
		}
	}

	if s.cfg.ownerEmail != "" {
		queue(effectOwnerEmail, ownerNotificationMail(s.cfg.storeName, s.cfg.ownerEmail, o))
	}

	if sup, ok := s.suppliers.byID(decision.SupplierID); ok && sup.Email != "" {
		queue(effectSupplierEmail, supplierOrderMail(o, decision, sup))
	}

	return effects
}

func (s *service) processStatusChanged(ctx context.Context, c statusChangedContent) error {
	if err := s.store.updateStatus(ctx, c.Token, c.Status); err != nil {
		return err
	}
	// The provider sends "Shipped" with this exact casing; anything else is a
	// plain status write with no notification.
	if c.Status != "Shipped" {
		return nil
	}
	o, err := s.store.getByID(ctx, c.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if o.CustomerEmail == "" {
		return nil
	}
	if _, err := s.outbox.enqueue(ctx, o.ID, effectShippingEmail, shippingNoticeMail(s.cfg.storeName, o)); err != nil {
		log.Printf("warn: enqueue shipping notice failed for order %s: %v", o.ID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payment endpoint
// ---------------------------------------------------------------------------

type paymentNotification struct {
	Token         string `json:"token"`
	TransactionID string `json:"transactionId"`
	Method        string `json:"method"`
}

func (s *service) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, webhookResponse{Error: "method not allowed"})
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(r.Context(), "payment:"+ip, s.cfg.paymentLimit) {
		log.Printf("security: payment rate limit exceeded for client %s", hashClientKey(ip))
		writeJSON(w, http.StatusTooManyRequests, webhookResponse{Error: "too many requests"})
		return
	}
	if err := s.verifier.verify(r.Context(), r.Header.Get(requestTokenHeader)); err != nil {
		log.Printf("security: payment token rejected: %v", err)
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Error: "unauthorized"})
		return
	}

	var p paymentNotification
	if err := decodeJSON(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(p.Token) == "" || strings.TrimSpace(p.TransactionID) == "" {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "token and transactionId are required"})
		return
	}

	if err := s.store.recordPayment(r.Context(), p.Token, p.TransactionID, p.Method); err != nil {
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Event: "payment.confirmed",
		Result: map[string]string{"orderId": p.Token, "transactionId": p.TransactionID}})
}

// ---------------------------------------------------------------------------
// Order building
// ---------------------------------------------------------------------------

func buildOrder(c orderCompletedContent) order {
	now := time.Now().UTC()

	id := strings.TrimSpace(c.Token)
	if id == "" {
		id = strings.TrimSpace(c.InvoiceNumber)
	}
	if id == "" {
		id = newOrderID()
	}

	items := make([]orderItem, 0, len(c.Items))
	quantity := 0
	for _, it := range c.Items {
		sku := it.SKU
		if sku == "" {
			sku = it.ID
		}
		items = append(items, orderItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price, SKU: sku})
		quantity += it.Quantity
	}

	product := ""
	switch {
	case len(items) == 1:
		product = items[0].Name
	case len(items) > 1:
		product = "Multiple Items"
	}

	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = "USD"
	}

	return order{
		ID:              id,
		CreatedAt:       now,
		CustomerName:    strings.TrimSpace(c.BillingAddressName),
		CustomerEmail:   strings.TrimSpace(c.Email),
		Phone:           strings.TrimSpace(c.BillingAddressPhone),
		Items:           items,
		Product:         product,
		Quantity:        quantity,
		Subtotal:        c.ItemsTotal,
		Shipping:        c.ShippingFees,
		Tax:             c.TaxesTotal,
		Total:           c.GrandTotal,
		Currency:        currency,
		ShippingAddress: strings.TrimSpace(c.ShippingAddress),
		Payment:         orderPayment{Method: strings.TrimSpace(c.PaymentMethod)},
		Status:          "confirmed",
		UpdatedAt:       now,
	}
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

// deliverEffect routes an outbox entry to its transport.
func (s *service) deliverEffect(ctx context.Context, e outboxEntry) error {
	switch e.Kind {
	case effectSheetForward:
		return s.forwarder.send(ctx, e.Payload)
	case effectCustomerEmail, effectOwnerEmail, effectShippingEmail, effectSupplierEmail:
		var msg mailMessage
		if err := json.Unmarshal(e.Payload, &msg); err != nil {
			return fmt.Errorf("decode mail payload: %w", err)
		}
		return s.sender.send(ctx, msg)
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}
