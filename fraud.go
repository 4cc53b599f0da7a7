package main

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Risk model
// ---------------------------------------------------------------------------

type riskLevel string

const (
	riskLow      riskLevel = "low"
	riskMedium   riskLevel = "medium"
	riskHigh     riskLevel = "high"
	riskCritical riskLevel = "critical"
)

const (
	fraudMediumThreshold   = 40.0
	fraudHighThreshold     = 70.0
	fraudCriticalThreshold = 85.0

	maxOrdersPerHourPerIP   = 3
	maxOrdersPerDayPerEmail = 5
)

type fraudSignal struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	Details string  `json:"details"`
}

type fraudAssessment struct {
	OrderID string        `json:"order_id"`
	Score   float64       `json:"score"`
	Level   riskLevel     `json:"level"`
	Signals []fraudSignal `json:"signals"`
	Flags   []string      `json:"flags,omitempty"`
}

func (a *fraudAssessment) add(sig fraudSignal) {
	a.Signals = append(a.Signals, sig)
	total := 0.0
	for _, s := range a.Signals {
		total += s.Score * s.Weight
	}
	a.Score = total
	switch {
	case a.Score >= fraudCriticalThreshold:
		a.Level = riskCritical
	case a.Score >= fraudHighThreshold:
		a.Level = riskHigh
	case a.Score >= fraudMediumThreshold:
		a.Level = riskMedium
	default:
		a.Level = riskLow
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

var disposableEmailDomains = map[string]bool{
	"tempmail.com":      true,
	"throwaway.email":   true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"10minutemail.com":  true,
	"fakeinbox.com":     true,
}

var autoGeneratedLocalPart = regexp.MustCompile(`^[a-z]{1,3}\d{5,}`)

// fraudEngine scores inbound orders on a handful of weighted signals. Scoring
// is advisory only: a risky order is flagged, never rejected, so a false
// positive cannot eat a real sale.
type fraudEngine struct {
	mu       sync.Mutex
	velocity map[string][]time.Time
	now      func() time.Time
}

func newFraudEngine() *fraudEngine {
	return &fraudEngine{
		velocity: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (e *fraudEngine) assess(o order, clientIP string) fraudAssessment {
	a := fraudAssessment{OrderID: o.ID, Level: riskLow}
	e.assessEmail(&a, o.CustomerEmail)
	e.assessAddress(&a, o.ShippingAddress)
	e.assessAmount(&a, o.Total)
	e.assessVelocity(&a, o.CustomerEmail, clientIP)
	e.assessBasket(&a, o.Items)
	e.assessIdentity(&a, o.CustomerName, o.CustomerEmail)

	if a.Level != riskLow {
		a.Flags = append(a.Flags, fmt.Sprintf("Fraud risk: %s", a.Level))
	}
	return a
}

func (e *fraudEngine) assessEmail(a *fraudAssessment, email string) {
	score := 0.0
	var details []string

	if email == "" {
		score = 100
		details = append(details, "no email provided")
	} else {
		local, domain, _ := strings.Cut(strings.ToLower(email), "@")
		if disposableEmailDomains[domain] {
			score += 80
			details = append(details, "disposable email domain: "+domain)
		}
		if autoGeneratedLocalPart.MatchString(local) {
			score += 30
			details = append(details, "email appears auto-generated")
		}
		if len(local) > 6 && uniqueRunes(local) < 4 {
			score += 20
			details = append(details, "low entropy email")
		}
	}

	a.add(fraudSignal{Name: "email_risk", Score: capScore(score), Weight: 0.20, Details: signalDetails(details, "email appears legitimate")})
}

func (e *fraudEngine) assessAddress(a *fraudAssessment, address string) {
	score := 0.0
	var details []string
	lower := strings.ToLower(address)

	if strings.TrimSpace(address) == "" {
		score += 60
		details = append(details, "missing shipping address")
	} else {
		if strings.Contains(lower, "po box") || strings.Contains(lower, "p.o. box") {
			score += 20
			details = append(details, "PO Box address")
		}
		for _, kw := range []string{"shipito", "myus", "stackry", "forward"} {
			if strings.Contains(lower, kw) {
				score += 50
				details = append(details, "possible freight forwarder")
				break
			}
		}
	}

	a.add(fraudSignal{Name: "address_risk", Score: capScore(score), Weight: 0.15, Details: signalDetails(details, "address appears valid")})
}

func (e *fraudEngine) assessAmount(a *fraudAssessment, total float64) {
	score := 0.0
	var details []string

	if total > 200 {
		score += 30
		details = append(details, fmt.Sprintf("high order amount: $%.2f", total))
	}
	if total > 500 {
		score += 40
		details = append(details, "very high order, additional verification recommended")
	}
	if total > 0 && total < 5 {
		score += 25
		details = append(details, "unusually low amount, possible card test")
	}

	a.add(fraudSignal{Name: "amount_risk", Score: capScore(score), Weight: 0.15, Details: signalDetails(details, "order amount normal")})
}

func (e *fraudEngine) assessVelocity(a *fraudAssessment, email, ip string) {
	score := 0.0
	var details []string
	now := e.now()

	e.mu.Lock()
	if email != "" {
		key := "email:" + strings.ToLower(email)
		recent := pruneAfter(e.velocity[key], now.Add(-24*time.Hour))
		if len(recent) >= maxOrdersPerDayPerEmail {
			score += 60
			details = append(details, fmt.Sprintf("high email velocity: %d orders today", len(recent)))
		}
		e.velocity[key] = append(recent, now)
	}
	if ip != "" {
		key := "ip:" + ip
		recent := pruneAfter(e.velocity[key], now.Add(-time.Hour))
		if len(recent) >= maxOrdersPerHourPerIP {
			score += 70
			details = append(details, fmt.Sprintf("high IP velocity: %d orders this hour", len(recent)))
		}
		e.velocity[key] = append(recent, now)
	}
	e.mu.Unlock()

	a.add(fraudSignal{Name: "velocity_risk", Score: capScore(score), Weight: 0.20, Details: signalDetails(details, "normal order velocity")})
}

func (e *fraudEngine) assessBasket(a *fraudAssessment, items []orderItem) {
	score := 0.0
	var details []string

	if len(items) > 5 {
		score += 20
		details = append(details, fmt.Sprintf("large basket: %d items", len(items)))
	}
	for _, it := range items {
		if it.Quantity > 3 {
			score += 25
			details = append(details, fmt.Sprintf("high quantity: %s x%d", it.Name, it.Quantity))
		}
	}

	a.add(fraudSignal{Name: "behavioral_risk", Score: capScore(score), Weight: 0.20, Details: signalDetails(details, "normal shopping behavior")})
}

func (e *fraudEngine) assessIdentity(a *fraudAssessment, name, email string) {
	score := 0.0
	var details []string

	name = strings.ToLower(strings.TrimSpace(name))
	local, _, _ := strings.Cut(strings.ToLower(email), "@")
	if name != "" && local != "" {
		match := false
		for _, part := range strings.Fields(name) {
			if len(part) > 2 && strings.Contains(local, part) {
				match = true
				break
			}
		}
		if !match {
			score += 15
			details = append(details, "name does not match email pattern")
		}
	}

	a.add(fraudSignal{Name: "identity_consistency", Score: capScore(score), Weight: 0.10, Details: signalDetails(details, "identity consistent")})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func capScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	return s
}

func signalDetails(details []string, fallback string) string {
	if len(details) == 0 {
		return fallback
	}
	return strings.Join(details, "; ")
}

func uniqueRunes(s string) int {
	seen := make(map[rune]bool)
	for _, r := range s {
		seen[r] = true
	}
	return len(seen)
}

func pruneAfter(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
