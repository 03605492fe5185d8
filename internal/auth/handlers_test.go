package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/otp"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+237670000001"

var codeRe = regexp.MustCompile(`code is (\d+)`)

type inbox struct {
	mu   sync.Mutex
	last map[string]string
	err  error
}

func (s *inbox) Send(ctx context.Context, phone, message string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[phone] = message
	return nil
}

func (s *inbox) code(t *testing.T, phone string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m := codeRe.FindStringSubmatch(s.last[phone])
	require.Len(t, m, 2)
	return m[1]
}

func setupHandlerRouter(t *testing.T, cfg otp.Config) (*gin.Engine, *inbox, *Issuer) {
	t.Helper()
	box := &inbox{last: make(map[string]string)}
	codes := otp.NewManager(otp.NewMemoryStore(0), box, cfg)
	issuer := NewIssuer("handler-secret", time.Hour)
	h := NewHandler(codes, issuer, NewMemoryUserStore())

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	protected := v1.Group("")
	protected.Use(Middleware(issuer), RequireAuth())
	h.RegisterProtectedRoutes(protected)
	return r, box, issuer
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_LoginFlow(t *testing.T) {
	r, box, issuer := setupHandlerRouter(t, otp.DefaultConfig)

	w := postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "+237******01", body["phone"])
	assert.NotEmpty(t, body["expiresAt"])

	w = postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": box.code(t, testPhone)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, body["userId"], claims.Subject)
	assert.Equal(t, testPhone, claims.Phone)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, claims.Subject, decode(t, w)["userId"])
}

func TestHandler_MeRequiresSession(t *testing.T) {
	r, _, _ := setupHandlerRouter(t, otp.DefaultConfig)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_CodeIsSingleUse(t *testing.T) {
	r, box, _ := setupHandlerRouter(t, otp.DefaultConfig)

	require.Equal(t, http.StatusAccepted, postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone}).Code)
	code := box.code(t, testPhone)

	require.Equal(t, http.StatusOK, postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": code}).Code)

	w := postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": code})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "code_expired", decode(t, w)["error"])
}

func TestHandler_Errors(t *testing.T) {
	cfg := otp.DefaultConfig
	cfg.MaxAttempts = 2

	t.Run("missing body fields", func(t *testing.T) {
		r, _, _ := setupHandlerRouter(t, cfg)
		w := postJSON(r, "/v1/auth/otp/request", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decode(t, w)["error"])

		w = postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized code", func(t *testing.T) {
		r, _, _ := setupHandlerRouter(t, cfg)
		w := postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": "12345678901"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.Equal(t, "invalid_request", body["error"])
		assert.Equal(t, "code: exceeds maximum length", body["message"])
	})

	t.Run("invalid phone", func(t *testing.T) {
		r, _, _ := setupHandlerRouter(t, cfg)
		w := postJSON(r, "/v1/auth/otp/request", gin.H{"phone": "12"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_phone", decode(t, w)["error"])
	})

	t.Run("resend too soon", func(t *testing.T) {
		r, _, _ := setupHandlerRouter(t, cfg)
		require.Equal(t, http.StatusAccepted, postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone}).Code)
		w := postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "resend_too_soon", decode(t, w)["error"])
	})

	t.Run("wrong code then locked", func(t *testing.T) {
		r, _, _ := setupHandlerRouter(t, cfg)
		require.Equal(t, http.StatusAccepted, postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone}).Code)

		w := postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": "bad"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_code", decode(t, w)["error"])

		w = postJSON(r, "/v1/auth/otp/verify", gin.H{"phone": testPhone, "code": "bad"})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "too_many_attempts", decode(t, w)["error"])
	})

	t.Run("delivery failure", func(t *testing.T) {
		r, box, _ := setupHandlerRouter(t, cfg)
		box.err = errors.New("gateway down")
		w := postJSON(r, "/v1/auth/otp/request", gin.H{"phone": testPhone})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "delivery_failed", decode(t, w)["error"])
	})
}

func TestHandler_Info(t *testing.T) {
	r, _, _ := setupHandlerRouter(t, otp.DefaultConfig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/auth/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "phone_otp", decode(t, w)["type"])
}
