// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for unsafe methods. A key is
// scoped to (user, route): the same key sent to POST /scans and to
// POST /sync/history refers to two different operations. The middleware only
// validates and annotates the request; handlers decide how to replay:
//   - GetIdempotencyKey returns the normalized key
//   - IdempotencyScope returns the route the key is bound to
//   - IsReplay reports that a stored response exists (and skips rate limiting)
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set on responses served from a stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyScope returns the scope the key was validated against. It falls
// back to the matched route so handlers can still store a result when the
// validator was not installed.
func IdempotencyScope(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyIdemScope); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	return scopeOf(c)
}

// IsReplay reports whether a stored response exists for this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether an unexpired stored response exists for
// (userID, scope, key). Errors are treated as "no record".
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header on unsafe methods,
// stashes it with its scope, and marks replays found by lookup. Safe methods
// ignore the header. A malformed key is rejected with 400.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		scope := scopeOf(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			if exists, _ := lookup(c.Request.Context(), userIDFromCtx(c), scope, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// scopeOf binds keys to "METHOD route" so a key is never shared between
// endpoints.
func scopeOf(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return c.Request.Method + " " + route
}

// userIDFromCtx mirrors the handlers' fallback so lookups and stores agree on
// the owner of anonymous requests.
func userIDFromCtx(c *gin.Context) string {
	if uid := UserID(c); uid != "" {
		return uid
	}
	return DefaultUserID
}
