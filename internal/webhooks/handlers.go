package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/security"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
	"github.com/gin-gonic/gin"
)

const maxURLLength = 2048

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store       Store
	validateURL func(string) error
}

// NewHandler creates a new webhook handler. Receiver URLs must resolve to
// public hosts, and to https when requireHTTPS is set.
func NewHandler(store Store, requireHTTPS bool) *Handler {
	return &Handler{
		store: store,
		validateURL: func(u string) error {
			return security.ValidateGatewayURL(u, requireHTTPS)
		},
	}
}

// WithURLValidator replaces the receiver URL check.
func (h *Handler) WithURLValidator(fn func(string) error) *Handler {
	h.validateURL = fn
	return h
}

// RegisterRoutes sets up webhook routes. The caller applies the
// authorization middleware to r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tontines/:tontineId/webhooks", h.CreateWebhook)
	r.GET("/tontines/:tontineId/webhooks", h.ListWebhooks)
	r.DELETE("/tontines/:tontineId/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

// CreateWebhook handles POST /tontines/:tontineId/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include 'url'",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, maxURLLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := h.validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events, err := ParseEventTypes(req.Events)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}

	secret, err := generateSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create webhook"})
		return
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		TontineID: c.Param("tontineId"),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("failed to create webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // Only shown once
		"usage": gin.H{
			"signature": "sha256=HMAC-SHA256(body, secret) as hex",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks handles GET /tontines/:tontineId/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.ListByTontine(c.Request.Context(), c.Param("tontineId"))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list webhooks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// DeleteWebhook handles DELETE /tontines/:tontineId/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sub, err := h.store.Get(ctx, c.Param("webhookId"))
	if err == nil && sub.TontineID != c.Param("tontineId") {
		err = ErrNotFound
	}
	if err == nil {
		err = h.store.Delete(ctx, sub.ID)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "webhook_not_found",
			"message": "No such webhook for this tontine",
		})
	case err != nil:
		logging.L(ctx).Error("failed to delete webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":  "deleted",
			"message": "Webhook deleted",
		})
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
