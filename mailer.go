package main

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"
)

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

type mailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

type mailSender interface {
	send(ctx context.Context, msg mailMessage) error
}

type smtpSender struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func newSMTPSender(host, port, username, password, from string) *smtpSender {
	return &smtpSender{host: host, port: port, username: username, password: password, from: from}
}

// send delivers one message over SMTP. With no host configured it degrades to
// a logged skip so notification wiring never blocks order processing in
// local setups.
func (s *smtpSender) send(_ context.Context, msg mailMessage) error {
	if s.host == "" {
		log.Printf("mail skipped (SMTP_HOST not configured): to=%s subject=%q", msg.To, msg.Subject)
		return nil
	}
	if msg.To == "" {
		return nil
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	return smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{msg.To}, buildMIME(s.from, msg))
}

func buildMIME(from string, msg mailMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.Text)
	}
	return []byte(b.String())
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;font-family:Arial,Helvetica,sans-serif;background:#f3f4f6;">
  <div style="max-width:600px;margin:0 auto;padding:20px;">
    <div style="background:#4f46e5;padding:30px;border-radius:12px 12px 0 0;text-align:center;">
      <h1 style="color:#ffffff;margin:0;">Order Confirmed!</h1>
      <p style="color:rgba(255,255,255,0.9);margin:10px 0 0 0;">Thank you for your purchase</p>
    </div>
    <div style="background:#ffffff;padding:30px;border-radius:0 0 12px 12px;">
      <p>Hi {{if .Order.CustomerName}}{{.Order.CustomerName}}{{else}}there{{end}},</p>
      <p>We're excited to confirm order <strong>#{{.Order.ID}}</strong>. Your items are being prepared for shipment.</p>
      <table style="width:100%;border-collapse:collapse;margin:20px 0;">
        <thead>
          <tr style="background:#e5e7eb;">
            <th style="padding:10px;text-align:left;">Product</th>
            <th style="padding:10px;text-align:center;">Qty</th>
            <th style="padding:10px;text-align:right;">Price</th>
          </tr>
        </thead>
        <tbody>
        {{range .Order.Items}}
          <tr>
            <td style="padding:10px;border-bottom:1px solid #e5e7eb;">{{.Name}}</td>
            <td style="padding:10px;border-bottom:1px solid #e5e7eb;text-align:center;">{{.Quantity}}</td>
            <td style="padding:10px;border-bottom:1px solid #e5e7eb;text-align:right;">${{printf "%.2f" .Price}}</td>
          </tr>
        {{end}}
        </tbody>
      </table>
      <p style="margin:4px 0;">Subtotal: ${{printf "%.2f" .Order.Subtotal}}</p>
      <p style="margin:4px 0;">Shipping: ${{printf "%.2f" .Order.Shipping}}</p>
      <p style="margin:4px 0;">Tax: ${{printf "%.2f" .Order.Tax}}</p>
      <p style="margin:12px 0;font-size:18px;"><strong>Total: ${{printf "%.2f" .Order.Total}}</strong></p>
      {{if .Order.ShippingAddress}}
      <h3 style="margin-bottom:6px;">Shipping Address</h3>
      <p style="color:#6b7280;margin-top:0;">{{.Order.ShippingAddress}}</p>
      {{end}}
      <p style="color:#6b7280;font-size:13px;">Estimated delivery: 10-15 business days. Questions? Just reply to this email.</p>
    </div>
    <p style="text-align:center;color:#9ca3af;font-size:12px;">&copy; {{.StoreName}}. All rights reserved.</p>
  </div>
</body>
</html>`))

// customerConfirmationMail renders the HTML confirmation for the buyer.
// Callers must skip it entirely when the order has no email address.
func customerConfirmationMail(storeName string, o order) (mailMessage, error) {
	var buf bytes.Buffer
	data := struct {
		StoreName string
		Order     order
	}{StoreName: storeName, Order: o}
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return mailMessage{}, err
	}
	return mailMessage{
		To:      o.CustomerEmail,
		Subject: fmt.Sprintf("Order Confirmed! #%s - %s", o.ID, storeName),
		HTML:    buf.String(),
	}, nil
}

func ownerNotificationMail(storeName, ownerEmail string, o order) mailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "New order received.\n\n")
	fmt.Fprintf(&b, "Order:    %s\n", o.ID)
	fmt.Fprintf(&b, "Customer: %s <%s>\n", o.CustomerName, o.CustomerEmail)
	fmt.Fprintf(&b, "Items:    %s\n", itemsSummary(o.Items))
	fmt.Fprintf(&b, "Subtotal: $%.2f\n", o.Subtotal)
	fmt.Fprintf(&b, "Shipping: $%.2f\n", o.Shipping)
	fmt.Fprintf(&b, "Tax:      $%.2f\n", o.Tax)
	fmt.Fprintf(&b, "Total:    $%.2f %s\n", o.Total, o.Currency)
	if o.ShippingAddress != "" {
		fmt.Fprintf(&b, "Ship to:  %s\n", o.ShippingAddress)
	}
	if len(o.RiskFlags) > 0 {
		fmt.Fprintf(&b, "\nRisk flags:\n")
		for _, f := range o.RiskFlags {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	return mailMessage{
		To:      ownerEmail,
		Subject: fmt.Sprintf("New Order #%s - $%.2f", o.ID, o.Total),
		Text:    b.String(),
	}
}

func shippingNoticeMail(storeName string, o order) mailMessage {
	text := fmt.Sprintf(
		"Hi %s,\n\nGood news! Your order #%s has shipped and is on its way.\n\nItems: %s\n\nThanks for shopping with %s.\n",
		firstNonEmpty(o.CustomerName, "there"), o.ID, itemsSummary(o.Items), storeName,
	)
	return mailMessage{
		To:      o.CustomerEmail,
		Subject: fmt.Sprintf("Your order #%s has shipped!", o.ID),
		Text:    text,
	}
}

func supplierOrderMail(o order, d fulfillmentDecision, sup supplier) mailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "NEW ORDER REQUEST - %s\n\n", o.ID)
	b.WriteString("Please fulfill the following order:\n\nITEMS:\n")
	for _, it := range o.Items {
		sku := it.SKU
		if sku == "" {
			sku = "N/A"
		}
		fmt.Fprintf(&b, "- %s (SKU: %s) x%d\n", it.Name, sku, it.Quantity)
	}
	fmt.Fprintf(&b, "\nSHIP TO:\n%s\n%s\n", o.CustomerName, o.ShippingAddress)
	if o.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", o.Phone)
	}
	fmt.Fprintf(&b, "\nSHIPPING METHOD: %s\nPRIORITY: %s\n", d.ShippingMethod, d.Priority)
	b.WriteString("\nPlease provide tracking number once shipped.\n")
	return mailMessage{
		To:      sup.Email,
		Subject: fmt.Sprintf("New Order #%s - Please Fulfill", o.ID),
		Text:    b.String(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
