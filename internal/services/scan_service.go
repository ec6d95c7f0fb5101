// Package services – ScanService
//
// ScanService runs the scan workflow for a barcode: fetch the product,
// resolve it against the user's preferences, publish the verdict into the
// user's scan state, and record it in history.
//
// Each user has one scan state. Every Scan call takes the next request id for
// that user; when a fetch completes, its outcome is applied only if no newer
// Scan has started since. Late results are dropped with ErrScanSuperseded and
// never reach history.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-allergen-backend/internal/allergen"
	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/openfoodfacts"
)

// ProductFetcher resolves a barcode to a product.
type ProductFetcher interface {
	FetchProduct(ctx context.Context, barcode string) (*openfoodfacts.Result, error)
}

// PreferenceSource supplies the resolver input for a user.
type PreferenceSource interface {
	Preferences(ctx context.Context, userID string) (Preferences, error)
}

// HistoryRecorder stores completed scans.
type HistoryRecorder interface {
	Append(ctx context.Context, userID, barcode, productName string, safety domain.SafetyStatus) (*domain.ScanRecord, bool, error)
}

// ScanPhase is the state of a user's scan workflow.
type ScanPhase string

const (
	PhaseIdle         ScanPhase = "idle"
	PhaseLoading      ScanPhase = "loading"
	PhaseResolved     ScanPhase = "resolved"
	PhaseNotFound     ScanPhase = "not_found"
	PhaseNetworkError ScanPhase = "network_error"
	PhaseError        ScanPhase = "error"
)

// ScanState is a snapshot of a user's scan workflow. Result and Product keep
// the last resolved verdict even while a later scan is loading or failed.
type ScanState struct {
	Phase     ScanPhase        `json:"phase"`
	RequestID uint64           `json:"request_id"`
	Barcode   string           `json:"barcode,omitempty"`
	Error     string           `json:"error,omitempty"`
	Product   *domain.Product  `json:"product,omitempty"`
	Result    *allergen.Result `json:"result,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ScanOutcome is what a successful Scan returns.
type ScanOutcome struct {
	RequestID uint64             `json:"request_id"`
	Source    string             `json:"source"`
	Product   domain.Product     `json:"product"`
	Result    allergen.Result    `json:"result"`
	Summary   string             `json:"summary"`
	Record    *domain.ScanRecord `json:"record,omitempty"`
	Recorded  bool               `json:"recorded"`
}

type userScan struct {
	mu    sync.Mutex
	seq   uint64
	state ScanState

	lastSeen time.Time // guarded by ScanService.mu
}

// defaultSweepEvery is how many state lookups pass between idle sweeps.
const defaultSweepEvery = 1000

// ScanService coordinates fetching, resolution, state and history.
type ScanService struct {
	Products ProductFetcher
	Settings PreferenceSource
	History  HistoryRecorder
	Log      zerolog.Logger

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	// IdleTTL drops a user's scan state once it has not been touched for this
	// long and no scan is loading. Zero keeps state forever.
	IdleTTL time.Duration

	mu         sync.Mutex
	users      map[string]*userScan
	lookups    uint64
	sweepEvery uint64
}

// NewScanService wires a ScanService.
func NewScanService(products ProductFetcher, settings PreferenceSource, history HistoryRecorder, log zerolog.Logger) *ScanService {
	return &ScanService{
		Products: products,
		Settings: settings,
		History:  history,
		Log:      log,
		Now:      time.Now,
		IdleTTL:  30 * time.Minute,
		users:    make(map[string]*userScan),
	}
}

func (s *ScanService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// user returns the state holder for userID, creating it if absent. Every
// sweepEvery lookups idle holders are evicted first, following the rate
// limiter's visitor cleanup.
func (s *ScanService) user(userID string) *userScan {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]*userScan)
	}

	s.lookups++
	every := s.sweepEvery
	if every == 0 {
		every = defaultSweepEvery
	}
	if s.lookups >= every {
		s.evictIdleLocked(now)
		s.lookups = 0
	}

	u, ok := s.users[userID]
	if !ok {
		u = &userScan{state: ScanState{Phase: PhaseIdle}}
		s.users[userID] = u
	}
	u.lastSeen = now
	return u
}

// evictIdleLocked drops holders idle for IdleTTL. A loading holder is kept so
// its in-flight scan can still apply. Callers hold s.mu.
func (s *ScanService) evictIdleLocked(now time.Time) {
	if s.IdleTTL <= 0 {
		return
	}
	for id, u := range s.users {
		if now.Sub(u.lastSeen) < s.IdleTTL {
			continue
		}
		u.mu.Lock()
		loading := u.state.Phase == PhaseLoading
		u.mu.Unlock()
		if !loading {
			delete(s.users, id)
		}
	}
}

// State returns the current scan snapshot for userID. Users without state
// read as idle and are not tracked.
func (s *ScanService) State(userID string) ScanState {
	s.mu.Lock()
	u, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return ScanState{Phase: PhaseIdle}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Scan runs the workflow for barcode. On success the verdict becomes the
// user's resolved state and is appended to history (subject to the history
// dedup window). Failures set the matching phase and keep the previous
// verdict; they never yield a safe result.
func (s *ScanService) Scan(ctx context.Context, userID, barcode string) (*ScanOutcome, error) {
	ctx, span := otel.Tracer("services/ScanService").Start(ctx, "Scan",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("product.barcode", barcode),
		),
	)
	defer span.End()

	barcode = strings.TrimSpace(barcode)
	if !openfoodfacts.ValidBarcode(barcode) {
		scanOutcomes.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidBarcode
	}

	u := s.user(userID)
	u.mu.Lock()
	u.seq++
	id := u.seq
	u.state.Phase = PhaseLoading
	u.state.RequestID = id
	u.state.Barcode = barcode
	u.state.Error = ""
	u.state.UpdatedAt = s.now()
	u.mu.Unlock()
	span.SetAttributes(attribute.Int64("scan.request_id", int64(id)))

	out, err := s.resolve(ctx, userID, barcode)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state.RequestID != id {
		scanOutcomes.WithLabelValues("superseded").Inc()
		span.SetAttributes(attribute.Bool("scan.superseded", true))
		return nil, ErrScanSuperseded
	}

	if err != nil {
		u.state.Phase, u.state.Error = failurePhase(err)
		u.state.UpdatedAt = s.now()
		scanOutcomes.WithLabelValues(string(u.state.Phase)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out.RequestID = id
	product, result := out.Product, out.Result
	u.state = ScanState{
		Phase:     PhaseResolved,
		RequestID: id,
		Barcode:   barcode,
		Product:   &product,
		Result:    &result,
		Summary:   out.Summary,
		UpdatedAt: s.now(),
	}
	scanOutcomes.WithLabelValues(string(out.Result.Safety)).Inc()

	// Recording under the user lock keeps history order equal to apply order.
	if s.History != nil {
		rec, added, herr := s.History.Append(ctx, userID, barcode, out.Product.Name, out.Result.Safety)
		if herr != nil {
			s.Log.Error().Err(herr).Str("user_id", userID).Str("barcode", barcode).Msg("history append failed")
		} else {
			out.Record, out.Recorded = rec, added
		}
	}
	return out, nil
}

// resolve fetches and evaluates without touching scan state.
func (s *ScanService) resolve(ctx context.Context, userID, barcode string) (*ScanOutcome, error) {
	res, err := s.Products.FetchProduct(ctx, barcode)
	if err != nil {
		return nil, err
	}
	prefs, err := s.Settings.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	r := allergen.Resolve(res.Product, prefs.Selected, prefs.Custom)
	return &ScanOutcome{
		Source:  res.Source,
		Product: res.Product,
		Result:  r,
		Summary: r.Summary(),
	}, nil
}

// failurePhase maps a fetch error to the state it leaves behind and the
// message shown to the user.
func failurePhase(err error) (ScanPhase, string) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return PhaseNotFound, "Product not found in database. Please try another barcode."
	case errors.Is(err, ErrNetwork):
		return PhaseNetworkError, "No internet connection and no cached data available."
	default:
		return PhaseError, "An error occurred: " + err.Error()
	}
}

// Check evaluates product for userID without touching scan state or history.
// A non-nil override replaces the stored preferences.
func (s *ScanService) Check(ctx context.Context, userID string, product domain.Product, override *Preferences) (allergen.Result, error) {
	ctx, span := otel.Tracer("services/ScanService").Start(ctx, "Check",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	var prefs Preferences
	if override != nil {
		prefs = *override
	} else {
		p, err := s.Settings.Preferences(ctx, userID)
		if err != nil {
			return allergen.Result{}, err
		}
		prefs = p
	}
	if strings.TrimSpace(product.Name) == "" {
		product.Name = domain.UnknownProductName
	}
	return allergen.Resolve(product, prefs.Selected, prefs.Custom), nil
}
