package reputation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultSignatureValidity bounds how long a signed score may be relied on.
const DefaultSignatureValidity = 24 * time.Hour

// Signer signs reputation payloads with HMAC-SHA256 so third parties (a
// lender, another tontine) can check a score came from this service.
type Signer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewSigner creates a new HMAC signer. If secret is empty, signing is disabled.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{
		secret:   []byte(secret),
		validity: DefaultSignatureValidity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignedEnvelope carries the signature metadata next to the payload.
type SignedEnvelope struct {
	Signature string `json:"signature"`
	IssuedAt  string `json:"issuedAt"`
	ExpiresAt string `json:"expiresAt"`
}

// Sign computes HMAC-SHA256 over the canonical JSON of payload, the issue
// time and the expiry, so neither can be altered independently.
func (s *Signer) Sign(payload interface{}) (*SignedEnvelope, error) {
	if s == nil {
		return nil, nil
	}
	now := s.now()
	env := &SignedEnvelope{
		IssuedAt:  now.Format(time.RFC3339),
		ExpiresAt: now.Add(s.validity).Format(time.RFC3339),
	}
	sig, err := s.mac(payload, env.IssuedAt, env.ExpiresAt)
	if err != nil {
		return nil, err
	}
	env.Signature = sig
	return env, nil
}

// Verify checks the signature and that it has not expired.
func (s *Signer) Verify(payload interface{}, env *SignedEnvelope) bool {
	if s == nil || env == nil {
		return false
	}
	expires, err := time.Parse(time.RFC3339, env.ExpiresAt)
	if err != nil || s.now().After(expires) {
		return false
	}
	expected, err := s.mac(payload, env.IssuedAt, env.ExpiresAt)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(env.Signature))
}

func (s *Signer) mac(payload interface{}, issuedAt, expiresAt string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	mac.Write([]byte("|" + issuedAt + "|" + expiresAt))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
