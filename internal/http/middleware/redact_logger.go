// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies, scrubs obvious PII (emails, phone numbers, UUIDs) from the query
// string and header values, masks credential headers, and logs the caller
// only as a short fingerprint of X-User-ID.
//
// It also attaches a request-scoped zerolog.Logger (see LoggerFrom) so that
// handlers log with the same request_id and user fields.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced with "[REDACTED]". Authorization, Cookie, Set-Cookie and
// X-User-ID are always masked.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Requires a separator or a leading + so that bare EAN/UPC barcodes in
	// query strings are not mistaken for phone numbers.
	phoneRE = regexp.MustCompile(`(?:\+\d{1,3}[ .-]?|\b)(?:\(?\d{2,4}\)?[ .-])\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs ids, emails and phone numbers, in that order (phone is the
// loosest pattern and would otherwise eat UUID segments).
func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// userFingerprint returns a stable, non-reversible tag for a user id.
func userFingerprint(uid string) string {
	if uid == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(uid))
	return hex.EncodeToString(sum[:6])
}

// RedactingLogger returns the access-log middleware. Level follows the
// outcome: error for 5xx or recorded Gin errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-user-id":     {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rid, _ := c.Get(requestIDKey)

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user", userFingerprint(UserID(c))).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}
		query := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("replay", IsReplay(c)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
