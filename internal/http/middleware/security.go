// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware for a JSON API
// behind a reverse proxy: baseline headers, opt-in HSTS for HTTPS requests,
// browser feature policies, and no-store caching for per-user data.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security on HTTPS requests only. Enable
// it only when traffic is HTTPS end-to-end. HSTSMaxAge defaults to 180 days.
//
// NoStore adds Cache-Control: no-store to every response. NoStorePrefixes
// limits that to request paths with one of the given prefixes (settings and
// sync payloads), leaving the allergen catalog and ETag-validated history
// cacheable by the client.
//
// EnablePolicy sends Permissions-Policy and X-Permitted-Cross-Domain-Policies.
// The scanning client needs the camera, so it is not denied here.
type SecurityOptions struct {
	EnableHSTS      bool
	HSTSMaxAge      time.Duration
	NoStore         bool
	NoStorePrefixes []string
	EnablePolicy    bool
}

// SecurityHeaders returns a Gin middleware that sets:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// plus the optional headers selected by opt, and exposes X-Request-ID and
// Idempotency-Replayed to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore || hasAnyPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}
		exposeHeader(h, HeaderIdempotencyReplayed)

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	switch {
	case cur == "":
		h.Set(hdr, name)
	case !strings.Contains(cur, name):
		h.Set(hdr, cur+", "+name)
	}
}

func hasAnyPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if pre != "" && strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
