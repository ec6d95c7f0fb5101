// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. The API has no authentication; the
// scanning client sends a stable device/user identifier in X-User-ID and all
// history, settings, and custom allergens are partitioned by it.
package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the caller identity.
	HeaderUserID = "X-User-ID"

	// ctxKeyUserID is shared with the rate limiter and the access logger.
	ctxKeyUserID = "userID"

	// DefaultUserID is used when no identity was supplied.
	DefaultUserID = "demo-user"

	maxUserIDLen = 64
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:@]+$`)

// UserIdentity validates X-User-ID and stores it in the Gin context.
// Requests without the header proceed anonymously (rate limiting then keys by
// client IP and handlers use DefaultUserID). A malformed header is rejected
// with 400 since it would otherwise address someone else's data.
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Next()
			return
		}
		if len(raw) > maxUserIDLen || !userIDPattern.MatchString(raw) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid X-User-ID",
			})
			return
		}
		c.Set(ctxKeyUserID, raw)
		c.Next()
	}
}

// UserID returns the identity stored by UserIdentity, or "" when anonymous.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
