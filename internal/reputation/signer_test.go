package reputation

import (
	"testing"
	"time"
)

func TestSigner_DisabledWithoutSecret(t *testing.T) {
	s := NewSigner("")
	if s != nil {
		t.Fatal("expected nil signer for empty secret")
	}
	env, err := s.Sign(map[string]int{"score": 1})
	if err != nil || env != nil {
		t.Fatalf("expected nil envelope from nil signer, got %v, %v", env, err)
	}
	if s.Verify(map[string]int{"score": 1}, &SignedEnvelope{}) {
		t.Fatal("nil signer must not verify")
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner("test-secret")
	s.now = func() time.Time { return t0 }

	rec := NewRecord("u", "t", t0)
	env, err := s.Sign(rec)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if env.Signature == "" {
		t.Fatal("expected signature")
	}
	if env.ExpiresAt != t0.Add(DefaultSignatureValidity).Format(time.RFC3339) {
		t.Errorf("unexpected expiry %s", env.ExpiresAt)
	}
	if !s.Verify(rec, env) {
		t.Fatal("expected signature to verify")
	}

	tampered := rec.Clone()
	tampered.TotalScore = 999
	if s.Verify(tampered, env) {
		t.Error("tampered payload must not verify")
	}

	extended := *env
	extended.ExpiresAt = t0.Add(365 * day).Format(time.RFC3339)
	if s.Verify(rec, &extended) {
		t.Error("altered expiry must not verify")
	}

	other := NewSigner("other-secret")
	other.now = s.now
	if other.Verify(rec, env) {
		t.Error("signature from another secret must not verify")
	}
}

func TestSigner_Expired(t *testing.T) {
	s := NewSigner("test-secret")
	s.now = func() time.Time { return t0 }
	env, _ := s.Sign("payload")

	s.now = func() time.Time { return t0.Add(DefaultSignatureValidity + time.Second) }
	if s.Verify("payload", env) {
		t.Error("expired signature must not verify")
	}
}
