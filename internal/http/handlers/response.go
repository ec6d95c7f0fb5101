// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers shared by every endpoint: the error
// envelope, JSON success writers, raw JSON writes for stored idempotent
// responses, and weak-ETag matching.
//
// Example error response:
//
//	HTTP/1.1 503 Service Unavailable
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "network_error",
//	  "message": "No internet connection and no cached data available."
//	}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"product_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"Product not found in database. Please try another barcode."`
}

// fail aborts the request with the error envelope. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failErr writes the envelope for a service error (see classify).
func failErr(c *gin.Context, err error) {
	status, code, msg := classify(err)
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// rawJSON writes an already-encoded JSON body.
func rawJSON(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json; charset=utf-8", body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// notModified sets etag and reports whether If-None-Match already carries it,
// in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return false
	}
	for _, tag := range strings.Split(inm, ",") {
		if t := strings.TrimSpace(tag); t == etag || t == "*" {
			c.Status(http.StatusNotModified)
			return true
		}
	}
	return false
}
