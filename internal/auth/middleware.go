package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClaims is the key for storing session claims in gin context
	ContextKeyClaims = "authClaims"
	// ContextKeyUserID is the key for storing the authenticated user ID
	ContextKeyUserID = "authUserID"

	// AdminSecretHeader carries the back-office secret.
	AdminSecretHeader = "X-Admin-Secret"
)

// Middleware extracts and validates the session token from the request.
// It never rejects; RequireAuth does.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("Authorization"); raw != "" {
			claims, err := issuer.Validate(raw)
			if err == nil {
				c.Set(ContextKeyClaims, claims)
				c.Set(ContextKeyUserID, claims.Subject)
			}
		}
		c.Next()
	}
}

// RequireAuth middleware rejects requests without a valid session
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyClaims); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireSelf requires a session whose user matches the :paramName param.
func RequireSelf(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session token required.",
			})
			return
		}
		if c.Param(paramName) != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You can only access your own data.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin checks the X-Admin-Secret header in constant time. An empty
// secret disables the guarded routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin endpoints are disabled. Set ADMIN_SECRET to enable.",
			})
			return
		}
		got := c.GetHeader(AdminSecretHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required.",
			})
			return
		}
		c.Next()
	}
}

// GetClaims returns the session claims from context (if authenticated)
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// GetUserID returns the authenticated user ID
func GetUserID(c *gin.Context) string {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	id, _ := v.(string)
	return id
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyClaims)
	return exists
}
