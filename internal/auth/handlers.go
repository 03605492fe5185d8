package auth

import (
	"errors"
	"net/http"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/otp"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
	"github.com/gin-gonic/gin"
)

// maxCodeLength bounds submitted codes before they reach the code store.
const maxCodeLength = 10

// Handler provides HTTP endpoints for phone login
type Handler struct {
	otp    *otp.Manager
	issuer *Issuer
	users  UserStore
}

// NewHandler creates a new auth handler
func NewHandler(codes *otp.Manager, issuer *Issuer, users UserStore) *Handler {
	return &Handler{otp: codes, issuer: issuer, users: users}
}

// RegisterRoutes sets up the login endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
	r.POST("/auth/otp/request", h.RequestCode)
	r.POST("/auth/otp/verify", h.VerifyCode)
}

// RegisterProtectedRoutes sets up endpoints that need a session. The caller
// applies Middleware and RequireAuth to r.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":   "phone_otp",
		"header": "Authorization: Bearer <token>",
		"flow": []string{
			"POST /v1/auth/otp/request {phone}",
			"POST /v1/auth/otp/verify {phone, code}",
		},
		"publicEndpoints": []string{
			"GET /v1/tontines/:tontineId/reputation",
			"GET /v1/tontines/:tontineId/reputation/:userId",
			"GET /v1/users/:userId/reputation",
			"GET /v1/reputation/badges",
		},
	})
}

// OTPRequest is the request body for requesting a code
type OTPRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// RequestCode sends a one-time code to the phone.
// POST /v1/auth/otp/request
func (h *Handler) RequestCode(c *gin.Context) {
	var req OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include 'phone'",
		})
		return
	}

	phone, expires, err := h.otp.Request(c.Request.Context(), req.Phone)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"phone":     validation.MaskPhone(phone),
		"expiresAt": expires,
	})
}

// OTPVerifyRequest is the request body for verifying a code
type OTPVerifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyCode exchanges a valid code for a session token.
// POST /v1/auth/otp/verify
func (h *Handler) VerifyCode(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include 'phone' and 'code'",
		})
		return
	}
	if errs := validation.Validate(validation.MaxLength("code", req.Code, maxCodeLength)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ctx := c.Request.Context()
	phone, err := h.otp.Verify(ctx, req.Phone, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user, err := h.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		logging.L(ctx).Error("failed to resolve user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to sign in"})
		return
	}

	token, expires, err := h.issuer.Issue(user.ID, user.Phone)
	if err != nil {
		logging.L(ctx).Error("failed to issue session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expires,
		"userId":    user.ID,
	})
}

// Me returns the authenticated user
func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "User no longer exists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    user.ID,
		"phone":     validation.MaskPhone(user.Phone),
		"createdAt": user.CreatedAt,
		"lastLogin": user.LastLogin,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, otp.ErrInvalidPhone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone", "message": err.Error()})
	case errors.Is(err, otp.ErrResendTooSoon):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "resend_too_soon", "message": err.Error()})
	case errors.Is(err, otp.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_attempts", "message": err.Error()})
	case errors.Is(err, otp.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_code", "message": err.Error()})
	case errors.Is(err, otp.ErrNoChallenge):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "code_expired", "message": err.Error()})
	case errors.Is(err, otp.ErrDeliveryFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "delivery_failed", "message": "Could not send the code, try again"})
	default:
		logging.L(c.Request.Context()).Error("auth request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Authentication failed"})
	}
}
