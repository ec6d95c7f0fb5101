// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, caller identity, logging/redaction, panic
// recovery, compression, metrics, idempotency, rate limiting, CORS and
// security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → identity → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-allergen-backend/docs" // swagger spec registration
	"github.com/tbourn/go-allergen-backend/internal/config"
	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/http/handlers"
	"github.com/tbourn/go-allergen-backend/internal/http/middleware"
	"github.com/tbourn/go-allergen-backend/internal/openfoodfacts"
	"github.com/tbourn/go-allergen-backend/internal/repo"
	"github.com/tbourn/go-allergen-backend/internal/services"
)

// repoShim adapts the repository free functions to the HistoryRepo,
// SettingsRepo and IdempotencyRepo interfaces expected by the services. This
// keeps services decoupled from the concrete repo package.
type repoShim struct{}

// CreateScanRecord proxies repo.CreateScanRecord.
func (repoShim) CreateScanRecord(ctx context.Context, db *gorm.DB, rec *domain.ScanRecord) error {
	return repo.CreateScanRecord(ctx, db, rec)
}

// LatestScanRecord proxies repo.LatestScanRecord.
func (repoShim) LatestScanRecord(ctx context.Context, db *gorm.DB, userID string) (*domain.ScanRecord, error) {
	return repo.LatestScanRecord(ctx, db, userID)
}

// ListScanRecords proxies repo.ListScanRecords (CSV export).
func (repoShim) ListScanRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScanRecord, error) {
	return repo.ListScanRecords(ctx, db, userID)
}

// CountScanRecords proxies repo.CountScanRecords (pagination support).
func (repoShim) CountScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountScanRecords(ctx, db, userID)
}

// ListScanRecordsPage proxies repo.ListScanRecordsPage (pagination support).
func (repoShim) ListScanRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ScanRecord, error) {
	return repo.ListScanRecordsPage(ctx, db, userID, offset, limit)
}

// DeleteScanRecords proxies repo.DeleteScanRecords.
func (repoShim) DeleteScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.DeleteScanRecords(ctx, db, userID)
}

// InsertScanRecordsIgnoreExisting proxies repo.InsertScanRecordsIgnoreExisting (sync).
func (repoShim) InsertScanRecordsIgnoreExisting(ctx context.Context, db *gorm.DB, userID string, recs []domain.ScanRecord) (int64, error) {
	return repo.InsertScanRecordsIgnoreExisting(ctx, db, userID, recs)
}

// HistoryStats proxies repo.HistoryStats (ETag support).
func (repoShim) HistoryStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.HistoryStats(ctx, db, userID)
}

// GetSettings proxies repo.GetSettings.
func (repoShim) GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error) {
	return repo.GetSettings(ctx, db, userID)
}

// SaveSettings proxies repo.SaveSettings.
func (repoShim) SaveSettings(ctx context.Context, db *gorm.DB, s *domain.UserSettings) error {
	return repo.SaveSettings(ctx, db, s)
}

// CreateCustomAllergen proxies repo.CreateCustomAllergen.
func (repoShim) CreateCustomAllergen(ctx context.Context, db *gorm.DB, userID, name string) (*domain.CustomAllergen, error) {
	return repo.CreateCustomAllergen(ctx, db, userID, name)
}

// ListCustomAllergens proxies repo.ListCustomAllergens.
func (repoShim) ListCustomAllergens(ctx context.Context, db *gorm.DB, userID string) ([]domain.CustomAllergen, error) {
	return repo.ListCustomAllergens(ctx, db, userID)
}

// EnabledCustomAllergenNames proxies repo.EnabledCustomAllergenNames.
func (repoShim) EnabledCustomAllergenNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	return repo.EnabledCustomAllergenNames(ctx, db, userID)
}

// GetCustomAllergen proxies repo.GetCustomAllergen.
func (repoShim) GetCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CustomAllergen, error) {
	return repo.GetCustomAllergen(ctx, db, id, userID)
}

// UpdateCustomAllergen proxies repo.UpdateCustomAllergen.
func (repoShim) UpdateCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string, name *string, enabled *bool) error {
	return repo.UpdateCustomAllergen(ctx, db, id, userID, name, enabled)
}

// DeleteCustomAllergen proxies repo.DeleteCustomAllergen.
func (repoShim) DeleteCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteCustomAllergen(ctx, db, id, userID)
}

// CustomAllergenStats proxies repo.CustomAllergenStats (ETag support).
func (repoShim) CustomAllergenStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.CustomAllergenStats(ctx, db, userID)
}

// GetIdempotency proxies repo.GetIdempotency.
func (repoShim) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}

// CreateIdempotency proxies repo.CreateIdempotency.
func (repoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, status, body, ttl)
}

// Services bundles the application services built over one database.
type Services struct {
	Scan        *services.ScanService
	History     *services.HistoryService
	Settings    *services.SettingsService
	Idempotency *services.IdempotencyService
}

// NewServices wires the services to the repository package and the product
// source. products may be nil, in which case an Open Food Facts client backed
// by the database product cache is built from cfg.Products.
func NewServices(db *gorm.DB, products services.ProductFetcher, cfg config.Config) Services {
	shim := repoShim{}
	history := services.NewHistoryService(db, shim)
	history.DedupWindow = cfg.HistoryDedupWindow
	settings := services.NewSettingsService(db, shim)
	idem := services.NewIdempotencyService(db, shim)
	if cfg.IdempotencyTTL > 0 {
		idem.TTL = cfg.IdempotencyTTL
	}
	if products == nil {
		products = openfoodfacts.NewFromConfig(cfg.Products, openfoodfacts.NewGormCache(db), log.Logger)
	}
	return Services{
		Scan:        services.NewScanService(products, settings, history, log.Logger),
		History:     history,
		Settings:    settings,
		Idempotency: idem,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), identity,
// idempotency and rate limiting, CORS and security headers, health, metrics
// and (optionally) Swagger endpoints, and then mounts the versioned public API
// under cfg.APIBasePath.
//
// products may be nil (see NewServices).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. UserIdentity: validate X-User-ID before anything logs or keys on it
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter and gzip
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, products services.ProductFetcher, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	svc := NewServices(db, products, cfg)

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Caller identity
	r.Use(middleware.UserIdentity())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB); sync payloads are the largest bodies
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, svc.Idempotency.Exists))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), middleware.KeyByIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	prefix := apiBase
	if prefix == "/" {
		prefix = ""
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{prefix + "/settings", prefix + "/sync", prefix + "/scans"},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Scan, svc.History, svc.Settings, svc.Idempotency)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Knowledge base
		api.GET("/allergens", h.ListAllergens)
		api.GET("/allergens/keywords", h.ListKeywords)

		// Scanning
		api.POST("/scans", h.PostScan)
		api.GET("/scans/state", h.GetScanState)
		api.POST("/check", h.CheckProduct)

		// History
		api.GET("/history", h.ListHistory)
		api.DELETE("/history", h.ClearHistory)
		api.GET("/history/export.csv", h.ExportHistoryCSV)

		// Settings
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings/allergens", h.PutSelectedAllergens)
		api.PUT("/settings/onboarding", h.CompleteOnboarding)

		// Custom allergens
		api.GET("/custom-allergens", h.ListCustomAllergens)
		api.POST("/custom-allergens", h.CreateCustomAllergen)
		api.PATCH("/custom-allergens/:id", h.UpdateCustomAllergen)
		api.DELETE("/custom-allergens/:id", h.DeleteCustomAllergen)

		// Sync
		api.POST("/sync/history", h.SyncHistory)
		api.PUT("/sync/settings", h.SyncSettings)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
