package reputation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/pagination"
	"github.com/gin-gonic/gin"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 500
)

// Handler provides HTTP endpoints for reputation
type Handler struct {
	service *Service
	signer  *Signer
}

// NewHandler creates a new reputation handler. signer may be nil.
func NewHandler(service *Service, signer *Signer) *Handler {
	return &Handler{service: service, signer: signer}
}

// RegisterRoutes sets up the public read endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tontines/:tontineId/reputation", h.GetLeaderboard)
	r.GET("/tontines/:tontineId/reputation/:userId", h.GetReputation)
	r.GET("/users/:userId/reputation", h.ListUserReputation)
	r.GET("/reputation/badges", h.ListBadges)
}

// RegisterProtectedRoutes sets up the write endpoints. The caller applies
// the authorization middleware to r.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/tontines/:tontineId/reputation/:userId/events", h.RecordEvent)
	r.POST("/tontines/:tontineId/reputation/:userId/refresh", h.Refresh)
	r.GET("/reputation/records", h.ListRecords)
}

// GetReputation returns one member's record, signed when a secret is set.
// GET /v1/tontines/:tontineId/reputation/:userId
func (h *Handler) GetReputation(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("userId"), c.Param("tontineId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"reputation": rec}
	if h.signer != nil {
		env, err := h.signer.Sign(rec)
		if err == nil && env != nil {
			resp["signature"] = env.Signature
			resp["issuedAt"] = env.IssuedAt
			resp["expiresAt"] = env.ExpiresAt
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListRecords pages through every record for back-office export.
// GET /v1/reputation/records?limit=&cursor=
func (h *Handler) ListRecords(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	records, next, err := h.service.ListAll(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"records":    records,
		"count":      len(records),
		"nextCursor": next,
		"hasMore":    next != "",
	})
}

// GetLeaderboard returns the tontine's records ordered by total score.
// GET /v1/tontines/:tontineId/reputation?limit=
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	tontineID := c.Param("tontineId")
	records, err := h.service.ListByTontine(c.Request.Context(), tontineID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tontineId": tontineID,
		"members":   records,
		"count":     len(records),
	})
}

// ListUserReputation returns a user's records across tontines.
// GET /v1/users/:userId/reputation
func (h *Handler) ListUserReputation(c *gin.Context) {
	userID := c.Param("userId")
	records, err := h.service.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"reputation": records,
		"count":      len(records),
	})
}

// ListBadges returns the badge catalogue.
// GET /v1/reputation/badges
func (h *Handler) ListBadges(c *gin.Context) {
	badges := h.service.Badges()
	c.JSON(http.StatusOK, gin.H{"badges": badges, "count": len(badges)})
}

// RecordEvent ingests one lifecycle event.
// POST /v1/tontines/:tontineId/reputation/:userId/events
func (h *Handler) RecordEvent(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a reputation event with a 'kind'",
		})
		return
	}

	rec, err := h.service.RecordEvent(c.Request.Context(), c.Param("userId"), c.Param("tontineId"), ev)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reputation": rec})
}

// Refresh recomputes a record without an event.
// POST /v1/tontines/:tontineId/reputation/:userId/refresh
func (h *Handler) Refresh(c *gin.Context) {
	rec, err := h.service.Refresh(c.Request.Context(), c.Param("userId"), c.Param("tontineId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reputation": rec})
}

func parseLimit(raw string) int {
	limit := defaultLeaderboardLimit
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		limit = min(parsed, maxLeaderboardLimit)
	}
	return limit
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var invalid *InvalidEventError
	switch {
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": invalid.Error(),
			"field":   invalid.Field,
		})
	case errors.Is(err, ErrMissingIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "reputation_not_found",
			"message": "No reputation record for this member yet",
		})
	case errors.Is(err, ErrTontineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tontine_not_found", "message": err.Error()})
	case errors.Is(err, ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_member", "message": err.Error()})
	case errors.Is(err, ErrTontineNotAccepting):
		c.JSON(http.StatusConflict, gin.H{"error": "tontine_not_accepting", "message": err.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Record was modified concurrently, retry the request",
		})
	default:
		logging.L(c.Request.Context()).Error("reputation request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process reputation request",
		})
	}
}
