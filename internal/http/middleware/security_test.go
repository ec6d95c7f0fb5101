package middleware

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), SecurityHeaders(SecurityOptions{
		EnableHSTS:      true,
		HSTSMaxAge:      time.Hour,
		NoStorePrefixes: []string{"/api/v1/settings"},
		EnablePolicy:    true,
	}))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1/settings", ok)
	r.GET("/api/v1/allergens", ok)

	w := serve(r, http.MethodGet, "/api/v1/settings", nil)
	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatalf("settings should be no-store, got %q", h.Get("Cache-Control"))
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}
	if strings.Contains(h.Get("Permissions-Policy"), "camera") {
		t.Fatal("camera must stay available to the scanner")
	}
	exp := h.Get("Access-Control-Expose-Headers")
	if !strings.Contains(exp, "X-Request-ID") || !strings.Contains(exp, HeaderIdempotencyReplayed) {
		t.Fatalf("expose headers = %q", exp)
	}

	w = serve(r, http.MethodGet, "/api/v1/allergens", map[string]string{"X-Forwarded-Proto": "https"})
	if w.Header().Get("Cache-Control") != "" {
		t.Fatal("catalog should stay cacheable")
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_GlobalNoStoreAndDefaults(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(SecurityOptions{NoStore: true, EnableHSTS: true}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/", map[string]string{"X-Forwarded-Proto": "HTTPS"})
	if w.Header().Get("Pragma") != "no-cache" || w.Header().Get("Expires") != "0" {
		t.Fatalf("no-store headers: %v", w.Header())
	}
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=15552000;") {
		t.Fatalf("default HSTS = %q", got)
	}
	if w.Header().Get("Permissions-Policy") != "" {
		t.Fatal("policy headers are opt-in")
	}
}
