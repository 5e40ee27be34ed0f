package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// LimitError is returned when calls are blocked locally.
type LimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a provider budget.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(decl),
	}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket),
	}
	now := g.now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: now}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, LimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token from every window or reports why it cannot.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		refill(b, window.Duration(), now)
		if b.tokens < 1 {
			retryAt := now.Add(window.Duration() / time.Duration(b.capacity))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// RecordResponse starts a cooldown when the provider throttles us.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))

	wait := time.Duration(headerSeconds(headers, g.decl.retryAfter)) * time.Second
	if wait <= 0 && status == http.StatusTooManyRequests {
		wait = g.decl.cooldown
	}
	if wait <= 0 {
		return
	}
	g.cooldown = g.now().Add(wait)
	retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(wait.Seconds())
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		rate := float64(b.capacity) / window.Seconds()
		b.tokens = min(float64(b.capacity), b.tokens+elapsed*rate)
	}
	b.last = now
}

func headerSeconds(h http.Header, key string) int {
	if key == "" {
		return 0
	}
	val := h.Get(key)
	if val == "" {
		return 0
	}
	out, err := strconv.Atoi(val)
	if err != nil || out < 0 {
		return 0
	}
	return out
}
