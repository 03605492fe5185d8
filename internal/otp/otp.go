// Package otp issues and checks one-time passwords delivered by SMS.
//
// Only a hash of each code is stored. A code is valid for a fixed TTL, may
// be tried a limited number of times and is consumed on first success.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/metrics"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/syncutil"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
)

var (
	ErrInvalidPhone    = errors.New("phone number must be in E.164 format")
	ErrNoChallenge     = errors.New("no pending code for this phone, request a new one")
	ErrInvalidCode     = errors.New("invalid code")
	ErrTooManyAttempts = errors.New("too many attempts, request a new code")
	ErrResendTooSoon   = errors.New("a code was sent recently, wait before requesting another")
	ErrDeliveryFailed  = errors.New("failed to deliver code")
)

// Challenge is the pending code for one phone number.
type Challenge struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"codeHash"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store keeps challenges until they expire.
type Store interface {
	// Put stores c, replacing any challenge for the same phone, until
	// c.ExpiresAt.
	Put(ctx context.Context, c *Challenge) error
	// Get returns ErrNoChallenge when nothing is pending or it expired.
	Get(ctx context.Context, phone string) (*Challenge, error)
	Delete(ctx context.Context, phone string) error
}

// Sender delivers a message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Config controls code generation and validity.
type Config struct {
	Length         int
	TTL            time.Duration
	MaxAttempts    int
	ResendInterval time.Duration
}

// DefaultConfig is a 6 digit code valid for 5 minutes with 5 attempts.
var DefaultConfig = Config{
	Length:         6,
	TTL:            5 * time.Minute,
	MaxAttempts:    5,
	ResendInterval: 30 * time.Second,
}

// Manager issues and verifies codes.
type Manager struct {
	store  Store
	sender Sender
	cfg    Config
	locks  *syncutil.ContextShardedMutex
	now    func() time.Time
}

// NewManager creates an OTP manager. Zero fields in cfg take the defaults.
func NewManager(store Store, sender Sender, cfg Config) *Manager {
	if cfg.Length <= 0 {
		cfg.Length = DefaultConfig.Length
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	return &Manager{
		store:  store,
		sender: sender,
		cfg:    cfg,
		locks:  syncutil.NewContextShardedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Request generates a code for phone, stores its hash and sends it. It
// returns the normalized phone and when the code expires.
func (m *Manager) Request(ctx context.Context, phone string) (string, time.Time, error) {
	phone, err := normalize(phone)
	if err != nil {
		metrics.OTPRequestsTotal.WithLabelValues("invalid_phone").Inc()
		return "", time.Time{}, err
	}

	unlock, err := m.locks.LockContext(ctx, phone)
	if err != nil {
		return "", time.Time{}, err
	}
	defer unlock()

	now := m.now()
	if m.cfg.ResendInterval > 0 {
		existing, err := m.store.Get(ctx, phone)
		if err != nil && !errors.Is(err, ErrNoChallenge) {
			return "", time.Time{}, fmt.Errorf("load challenge: %w", err)
		}
		if existing != nil && now.Before(existing.CreatedAt.Add(m.cfg.ResendInterval)) {
			metrics.OTPRequestsTotal.WithLabelValues("throttled").Inc()
			return "", time.Time{}, ErrResendTooSoon
		}
	}

	code, err := generateCode(m.cfg.Length)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate code: %w", err)
	}

	c := &Challenge{
		Phone:     phone,
		CodeHash:  hashCode(phone, code),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.store.Put(ctx, c); err != nil {
		return "", time.Time{}, fmt.Errorf("store challenge: %w", err)
	}

	msg := fmt.Sprintf("Your Tontine Connect code is %s. It expires in %d minutes.", code, int(m.cfg.TTL.Minutes()))
	if err := m.sender.Send(ctx, phone, msg); err != nil {
		_ = m.store.Delete(ctx, phone)
		metrics.OTPRequestsTotal.WithLabelValues("delivery_failed").Inc()
		logging.L(ctx).Warn("otp delivery failed", "phone", validation.MaskPhone(phone), "error", err)
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	metrics.OTPRequestsTotal.WithLabelValues("sent").Inc()
	return phone, c.ExpiresAt, nil
}

// Verify checks code against the pending challenge and consumes it on
// success. It returns the normalized phone.
func (m *Manager) Verify(ctx context.Context, phone, code string) (string, error) {
	phone, err := normalize(phone)
	if err != nil {
		metrics.OTPVerificationsTotal.WithLabelValues("invalid_phone").Inc()
		return "", err
	}

	unlock, err := m.locks.LockContext(ctx, phone)
	if err != nil {
		return "", err
	}
	defer unlock()

	c, err := m.store.Get(ctx, phone)
	if errors.Is(err, ErrNoChallenge) {
		metrics.OTPVerificationsTotal.WithLabelValues("no_challenge").Inc()
		return "", ErrNoChallenge
	}
	if err != nil {
		return "", fmt.Errorf("load challenge: %w", err)
	}
	if !m.now().Before(c.ExpiresAt) {
		_ = m.store.Delete(ctx, phone)
		metrics.OTPVerificationsTotal.WithLabelValues("expired").Inc()
		return "", ErrNoChallenge
	}

	got := hashCode(phone, strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.CodeHash)) == 1 {
		if err := m.store.Delete(ctx, phone); err != nil {
			return "", fmt.Errorf("consume challenge: %w", err)
		}
		metrics.OTPVerificationsTotal.WithLabelValues("ok").Inc()
		return phone, nil
	}

	c.Attempts++
	if c.Attempts >= m.cfg.MaxAttempts {
		_ = m.store.Delete(ctx, phone)
		metrics.OTPVerificationsTotal.WithLabelValues("locked").Inc()
		return "", ErrTooManyAttempts
	}
	if err := m.store.Put(ctx, c); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	metrics.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
	return "", ErrInvalidCode
}

func normalize(phone string) (string, error) {
	phone = validation.NormalizePhone(phone)
	if !validation.IsValidPhone(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// generateCode returns n uniformly random decimal digits.
func generateCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// hashCode binds the code to the phone so equal codes hash differently.
func hashCode(phone, code string) string {
	h := sha256.Sum256([]byte(phone + ":" + code))
	return hex.EncodeToString(h[:])
}
