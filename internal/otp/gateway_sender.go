package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/circuitbreaker"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/retry"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
)

// GatewayConfig configures delivery through an HTTP SMS gateway.
type GatewayConfig struct {
	URL      string
	Token    string
	Timeout  time.Duration
	Attempts int
}

// GatewaySender posts {"to", "message"} JSON to an SMS gateway. Server
// errors are retried with backoff; repeated failures open a circuit so a
// dead gateway fails fast.
type GatewaySender struct {
	url     string
	token   string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	key     string
}

type gatewayMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewGatewaySender builds a sender for cfg.URL.
func NewGatewaySender(cfg GatewayConfig) (*GatewaySender, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("otp: invalid gateway url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &GatewaySender{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		policy:  retry.Policy{MaxAttempts: cfg.Attempts, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		key:     u.Host,
	}, nil
}

// WithBreaker replaces the circuit breaker.
func (s *GatewaySender) WithBreaker(b *circuitbreaker.Breaker) *GatewaySender {
	s.breaker = b
	return s
}

// WithRetry replaces the retry policy's attempts and base delay.
func (s *GatewaySender) WithRetry(attempts int, delay time.Duration) *GatewaySender {
	s.policy.MaxAttempts = attempts
	s.policy.BaseDelay = delay
	return s
}

func (s *GatewaySender) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(gatewayMessage{To: phone, Message: message})
	if err != nil {
		return err
	}

	policy := s.policy
	policy.OnRetry = func(attempt int, err error) {
		logging.L(ctx).Warn("sms gateway attempt failed",
			"phone", validation.MaskPhone(phone), "attempt", attempt, "error", err)
	}

	return s.breaker.Do(s.key, func() error {
		return policy.Do(ctx, func() error { return s.post(ctx, body) })
	})
}

func (s *GatewaySender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("sms gateway rejected message: %d", resp.StatusCode))
	}
}
