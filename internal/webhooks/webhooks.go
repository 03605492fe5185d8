// Package webhooks delivers reputation changes to URLs registered per
// tontine. Every delivery body is signed with HMAC-SHA256 using the
// subscription secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/reputation"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/retry"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/security"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrNotFound     = errors.New("webhook not found")
	ErrUnknownEvent = errors.New("unknown webhook event type")
)

// EventType names a reputation change a subscriber can receive.
type EventType string

const (
	EventReputationUpdated EventType = EventType(reputation.NotifyUpdated)
	EventLevelChanged      EventType = EventType(reputation.NotifyLevelChanged)
	EventBadgeEarned       EventType = EventType(reputation.NotifyBadgeEarned)
	EventBadgeRevoked      EventType = EventType(reputation.NotifyBadgeRevoked)
)

// EventTypes returns every type a subscription may filter on.
func EventTypes() []EventType {
	return []EventType{EventReputationUpdated, EventLevelChanged, EventBadgeEarned, EventBadgeRevoked}
}

// ParseEventTypes validates names against EventTypes. An empty list means
// every event.
func ParseEventTypes(names []string) ([]EventType, error) {
	out := make([]EventType, 0, len(names))
	for _, n := range names {
		known := false
		for _, et := range EventTypes() {
			if string(et) == n {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, n)
		}
		out = append(out, EventType(n))
	}
	return out, nil
}

// Delivery headers.
const (
	HeaderEvent     = "X-Tontine-Event"
	HeaderDelivery  = "X-Tontine-Delivery"
	HeaderTimestamp = "X-Tontine-Timestamp"
	HeaderSignature = "X-Tontine-Signature"
)

// Event is the JSON body posted to subscribers.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"userId"`
	TontineID string      `json:"tontineId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscription registers a URL for the changes of one tontine.
type Subscription struct {
	ID                  string      `json:"id"`
	TontineID           string      `json:"tontineId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Wants reports whether the subscription receives events of type t.
func (s *Subscription) Wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

func (s *Subscription) clone() *Subscription {
	cp := *s
	cp.Events = append([]EventType(nil), s.Events...)
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		cp.LastSuccess = &t
	}
	return &cp
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByTontine(ctx context.Context, tontineID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

const (
	defaultTimeout        = 10 * time.Second
	defaultAttempts       = 3
	defaultRetryDelay     = 500 * time.Millisecond
	defaultMaxFailures    = 10
	maxParallelDeliveries = 8
)

// Dispatcher posts events to the matching subscriptions.
type Dispatcher struct {
	store        Store
	client       *http.Client
	policy       retry.Policy
	maxFailures  int
	urlValidator func(string) error
	now          func() time.Time
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: defaultTimeout},
		policy:       retry.Policy{MaxAttempts: defaultAttempts, BaseDelay: defaultRetryDelay, MaxDelay: 5 * time.Second},
		maxFailures:  defaultMaxFailures,
		urlValidator: func(u string) error { return security.ValidateGatewayURL(u, false) },
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithURLValidator replaces the receiver URL check run before each delivery.
func (d *Dispatcher) WithURLValidator(fn func(string) error) *Dispatcher {
	d.urlValidator = fn
	return d
}

// WithClient replaces the HTTP client.
func (d *Dispatcher) WithClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

// WithRetry sets how often a single delivery is attempted.
func (d *Dispatcher) WithRetry(attempts int, delay time.Duration) *Dispatcher {
	d.policy.MaxAttempts = attempts
	d.policy.BaseDelay = delay
	return d
}

// WithMaxFailures sets after how many consecutive failed deliveries a
// subscription is deactivated. Zero never deactivates.
func (d *Dispatcher) WithMaxFailures(n int) *Dispatcher {
	d.maxFailures = n
	return d
}

// Dispatch delivers event to every active subscription of its tontine that
// wants its type and returns once all deliveries finished. Delivery
// failures are recorded on the subscription, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.ListByTontine(ctx, event.TontineID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p := pool.New().WithMaxGoroutines(maxParallelDeliveries)
	for _, sub := range subs {
		if !sub.Active || !sub.Wants(event.Type) {
			continue
		}
		p.Go(func() { d.deliver(ctx, sub, event, payload) })
	}
	p.Wait()
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) {
	policy := d.policy
	policy.OnRetry = func(attempt int, err error) {
		logging.L(ctx).Debug("webhook delivery retry", "webhook", sub.ID, "attempt", attempt, "error", err)
	}

	// DNS may have changed since registration.
	err := d.urlValidator(sub.URL)
	if err == nil {
		err = policy.Do(ctx, func() error { return d.post(ctx, sub, event, payload) })
	}
	if err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		d.recordFailure(ctx, sub, err)
		return
	}
	deliveriesTotal.WithLabelValues("delivered").Inc()
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := d.now()
	updated := sub.clone()
	updated.LastSuccess = &now
	updated.LastError = ""
	updated.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, updated); err != nil {
		logging.L(ctx).Warn("failed to record webhook success", "webhook", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, cause error) {
	updated := sub.clone()
	updated.LastError = truncate(cause.Error(), 500)
	updated.ConsecutiveFailures++
	if d.maxFailures > 0 && updated.ConsecutiveFailures >= d.maxFailures {
		updated.Active = false
		logging.L(ctx).Warn("webhook deactivated after repeated failures",
			"webhook", sub.ID, "tontine", sub.TontineID, "failures", updated.ConsecutiveFailures)
	}
	if err := d.store.Update(ctx, updated); err != nil {
		logging.L(ctx).Warn("failed to record webhook failure", "webhook", sub.ID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
