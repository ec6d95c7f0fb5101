package openfoodfacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-allergen-backend/internal/config"
	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 4 << 20

// Cache stores raw product payloads by barcode.
type Cache interface {
	Get(ctx context.Context, barcode string) ([]byte, bool, error)
	Put(ctx context.Context, barcode string, payload []byte, fetchedAt time.Time) error
}

// Result is a resolved product lookup.
type Result struct {
	Product domain.Product
	Source  string // SourceNetwork or SourceCache
}

// Client talks to one Open Food Facts instance.
type Client struct {
	baseURL   string
	userAgent string
	hc        *http.Client
	limiter   *rate.Limiter
	cache     Cache
	log       zerolog.Logger
	now       func() time.Time
}

// Options configures New. Zero values fall back to sensible defaults; a nil
// HTTPClient gets a plain client with Timeout and a nil Cache disables the
// offline fallback.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	HTTPClient *http.Client
	Cache      Cache
	Logger     zerolog.Logger
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, opts.Burst)
	if opts.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		hc:        hc,
		limiter:   lim,
		cache:     opts.Cache,
		log:       opts.Logger.With().Str("component", "openfoodfacts").Logger(),
		now:       time.Now,
	}
}

// NewFromConfig builds a production Client. With SafeHTTP the transport
// refuses private, loopback and link-local targets.
func NewFromConfig(cfg config.ProductSourceConfig, cache Cache, log zerolog.Logger) *Client {
	var hc *http.Client
	if cfg.SafeHTTP {
		sc := safeurl.GetConfigBuilder().
			SetTimeout(cfg.Timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		hc = safeurl.Client(sc).Client
	}
	return New(Options{
		BaseURL:    cfg.BaseURL,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		RPS:        cfg.RPS,
		Burst:      cfg.Burst,
		HTTPClient: hc,
		Cache:      cache,
		Logger:     log,
	})
}

// ValidBarcode reports whether s is a non-empty run of at most 32 ASCII
// digits.
func ValidBarcode(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FetchProduct looks barcode up upstream. When the upstream cannot be reached
// the last cached payload is used instead; without one the call fails with
// ErrNetwork. Context cancellation is returned as is.
func (c *Client) FetchProduct(ctx context.Context, barcode string) (*Result, error) {
	ctx, span := otel.Tracer("openfoodfacts").Start(ctx, "FetchProduct",
		trace.WithAttributes(attribute.String("product.barcode", barcode)),
	)
	defer span.End()

	if !ValidBarcode(barcode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBarcode, barcode)
	}

	res, err := c.fetch(ctx, barcode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("product.source", res.Source))
	return res, nil
}

func (c *Client) fetch(ctx context.Context, barcode string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/api/v0/product/" + url.PathEscape(barcode) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return c.fallback(ctx, barcode, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		productFetches.WithLabelValues(SourceNetwork, outcomeNotFound).Inc()
		return nil, ErrProductNotFound
	case resp.StatusCode != http.StatusOK:
		return c.fallback(ctx, barcode, fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return c.fallback(ctx, barcode, err)
	}

	p, err := decodeProduct(barcode, body)
	switch {
	case errors.Is(err, ErrProductNotFound):
		productFetches.WithLabelValues(SourceNetwork, outcomeNotFound).Inc()
		return nil, err
	case err != nil:
		productFetches.WithLabelValues(SourceNetwork, outcomeDecode).Inc()
		return nil, err
	}
	productFetches.WithLabelValues(SourceNetwork, outcomeOK).Inc()

	if c.cache != nil {
		if err := c.cache.Put(ctx, barcode, body, c.now()); err != nil {
			c.log.Warn().Err(err).Str("barcode", barcode).Msg("product cache write failed")
		}
	}
	return &Result{Product: p, Source: SourceNetwork}, nil
}

// fallback answers from the cache after a transport failure.
func (c *Client) fallback(ctx context.Context, barcode string, cause error) (*Result, error) {
	c.log.Warn().Err(cause).Str("barcode", barcode).Msg("product source unreachable")

	if c.cache != nil {
		payload, ok, err := c.cache.Get(ctx, barcode)
		if err != nil {
			c.log.Error().Err(err).Str("barcode", barcode).Msg("product cache read failed")
		}
		if ok {
			p, err := decodeProduct(barcode, payload)
			if err == nil {
				productFetches.WithLabelValues(SourceCache, outcomeOK).Inc()
				return &Result{Product: p, Source: SourceCache}, nil
			}
			productFetches.WithLabelValues(SourceCache, outcomeDecode).Inc()
			return nil, err
		}
	}
	productFetches.WithLabelValues(SourceNetwork, outcomeNetwork).Inc()
	return nil, fmt.Errorf("%w: %v", ErrNetwork, cause)
}
