package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/openfoodfacts"
)

// ----- Fakes -----

type fakeFetcher struct {
	mu       sync.Mutex
	products map[string]domain.Product
	errs     map[string]error
	gates    map[string]chan struct{} // fetch blocks until the gate closes
	started  chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		products: map[string]domain.Product{},
		errs:     map[string]error{},
		gates:    map[string]chan struct{}{},
		started:  make(chan string, 16),
	}
}

func (f *fakeFetcher) FetchProduct(ctx context.Context, barcode string) (*openfoodfacts.Result, error) {
	f.mu.Lock()
	gate := f.gates[barcode]
	p, ok := f.products[barcode]
	err := f.errs[barcode]
	f.mu.Unlock()

	f.started <- barcode
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, openfoodfacts.ErrProductNotFound
	}
	return &openfoodfacts.Result{Product: p, Source: openfoodfacts.SourceNetwork}, nil
}

type fakePrefs struct {
	prefs Preferences
	err   error
}

func (f fakePrefs) Preferences(context.Context, string) (Preferences, error) { return f.prefs, f.err }

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.ScanRecord
	err     error
}

func (r *fakeRecorder) Append(_ context.Context, userID, barcode, name string, safety domain.SafetyStatus) (*domain.ScanRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	rec := domain.ScanRecord{ID: fmt.Sprint(len(r.records) + 1), UserID: userID, Barcode: barcode, ProductName: name, Safety: safety}
	r.records = append(r.records, rec)
	return &rec, true, nil
}

func (r *fakeRecorder) all() []domain.ScanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ScanRecord(nil), r.records...)
}

func newScanFixture(prefs Preferences) (*ScanService, *fakeFetcher, *fakeRecorder) {
	f := newFakeFetcher()
	rec := &fakeRecorder{}
	return NewScanService(f, fakePrefs{prefs: prefs}, rec, zerolog.Nop()), f, rec
}

var milkChocolate = domain.Product{
	Barcode:     "111",
	Name:        "Milk Chocolate",
	Allergens:   []domain.Allergen{domain.Dairy},
	Ingredients: []string{"sugar", "soy lecithin"},
}

var plainRice = domain.Product{Barcode: "222", Name: "Plain Rice", Allergens: []domain.Allergen{}, Ingredients: []string{"rice"}}

// ----- Tests -----

func TestScan_ResolvesAndRecords(t *testing.T) {
	s, f, rec := newScanFixture(Preferences{Selected: []domain.Allergen{domain.Dairy, domain.Soy}})
	f.products["111"] = milkChocolate

	out, err := s.Scan(context.Background(), "u1", " 111 ")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Result.Safety != domain.SafetyUnsafe {
		t.Fatalf("safety = %q, want unsafe", out.Result.Safety)
	}
	if out.Result.Statuses[domain.Dairy] || out.Result.Statuses[domain.Soy] {
		t.Fatalf("statuses = %v", out.Result.Statuses)
	}
	if !strings.HasPrefix(out.Summary, "Warning: contains Dairy, Soy.") {
		t.Fatalf("summary = %q", out.Summary)
	}
	if !out.Recorded || out.RequestID != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	got := rec.all()
	if len(got) != 1 || got[0].Barcode != "111" || got[0].ProductName != "Milk Chocolate" || got[0].Safety != domain.SafetyUnsafe {
		t.Fatalf("history = %+v", got)
	}

	st := s.State("u1")
	if st.Phase != PhaseResolved || st.Result == nil || st.Result.Safety != domain.SafetyUnsafe || st.Barcode != "111" {
		t.Fatalf("state = %+v", st)
	}
}

func TestScan_NoSelectionIsSafe(t *testing.T) {
	s, f, _ := newScanFixture(Preferences{})
	f.products["222"] = plainRice
	out, err := s.Scan(context.Background(), "u1", "222")
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Safety != domain.SafetySafe || out.Summary != "Plain Rice is safe to eat!" {
		t.Fatalf("unexpected outcome: %q %q", out.Result.Safety, out.Summary)
	}
}

func TestScan_FailuresKeepPreviousVerdict(t *testing.T) {
	s, f, rec := newScanFixture(Preferences{Selected: []domain.Allergen{domain.Gluten}})
	f.products["222"] = plainRice
	f.errs["333"] = fmt.Errorf("%w: dial tcp: timeout", openfoodfacts.ErrNetwork)
	f.errs["444"] = fmt.Errorf("%w: unexpected EOF", openfoodfacts.ErrDecode)
	ctx := context.Background()

	if _, err := s.Scan(ctx, "u1", "222"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		barcode string
		wantErr error
		phase   ScanPhase
		msg     string
	}{
		{"999", ErrProductNotFound, PhaseNotFound, "Product not found in database. Please try another barcode."},
		{"333", ErrNetwork, PhaseNetworkError, "No internet connection and no cached data available."},
		{"444", ErrDecode, PhaseError, "An error occurred: "},
	}
	for _, tc := range cases {
		_, err := s.Scan(ctx, "u1", tc.barcode)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.barcode, tc.wantErr, err)
		}
		st := s.State("u1")
		if st.Phase != tc.phase || !strings.HasPrefix(st.Error, tc.msg) {
			t.Fatalf("%s: state = %q %q", tc.barcode, st.Phase, st.Error)
		}
		if st.Result == nil || st.Product == nil || st.Product.Barcode != "222" {
			t.Fatalf("%s: previous verdict lost: %+v", tc.barcode, st)
		}
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("failures must not reach history; got %d records", n)
	}
}

func TestScan_InvalidBarcode(t *testing.T) {
	s, f, rec := newScanFixture(Preferences{})
	for _, bc := range []string{"", "abc", "12 34"} {
		if _, err := s.Scan(context.Background(), "u1", bc); !errors.Is(err, ErrInvalidBarcode) {
			t.Fatalf("%q: expected ErrInvalidBarcode, got %v", bc, err)
		}
	}
	if len(f.started) != 0 || len(rec.all()) != 0 {
		t.Fatal("invalid barcode must not fetch or record")
	}
	if st := s.State("u1"); st.Phase != PhaseIdle {
		t.Fatalf("state = %q, want idle", st.Phase)
	}
}

func TestScan_LateResultIsSuperseded(t *testing.T) {
	s, f, rec := newScanFixture(Preferences{Selected: []domain.Allergen{domain.Dairy}})
	f.products["111"] = milkChocolate
	f.products["222"] = plainRice
	gate := make(chan struct{})
	f.gates["111"] = gate

	type res struct {
		out *ScanOutcome
		err error
	}
	first := make(chan res, 1)
	go func() {
		out, err := s.Scan(context.Background(), "u1", "111")
		first <- res{out, err}
	}()
	<-f.started // first fetch is in flight

	second, err := s.Scan(context.Background(), "u1", "222")
	<-f.started
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.RequestID != 2 || second.Result.Safety != domain.SafetySafe {
		t.Fatalf("second outcome = %+v", second)
	}

	close(gate)
	select {
	case r := <-first:
		if !errors.Is(r.err, ErrScanSuperseded) || r.out != nil {
			t.Fatalf("first scan = (%v, %v), want ErrScanSuperseded", r.out, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first scan did not finish")
	}

	st := s.State("u1")
	if st.RequestID != 2 || st.Barcode != "222" || st.Result.Safety != domain.SafetySafe {
		t.Fatalf("late result was applied: %+v", st)
	}
	got := rec.all()
	if len(got) != 1 || got[0].Barcode != "222" {
		t.Fatalf("history = %+v, want only the latest scan", got)
	}
}

func TestScan_UsersAreIndependent(t *testing.T) {
	s, f, _ := newScanFixture(Preferences{})
	f.products["222"] = plainRice
	if _, err := s.Scan(context.Background(), "a", "222"); err != nil {
		t.Fatal(err)
	}
	<-f.started
	if _, err := s.Scan(context.Background(), "b", "222"); err != nil {
		t.Fatal(err)
	}
	if s.State("a").RequestID != 1 || s.State("b").RequestID != 1 {
		t.Fatal("request ids must be per user")
	}
}

func TestScan_IdleUserStateIsEvicted(t *testing.T) {
	s, f, _ := newScanFixture(Preferences{})
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s.Now = clock.Now
	s.IdleTTL = time.Minute
	s.sweepEvery = 1
	f.products["222"] = plainRice
	ctx := context.Background()

	tracked := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.users)
	}

	// A scan parked in loading must survive sweeps.
	gate := make(chan struct{})
	f.gates["333"] = gate
	f.products["333"] = plainRice
	done := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, "slow", "333")
		done <- err
	}()
	<-f.started

	for i := 0; i < 5; i++ {
		if _, err := s.Scan(ctx, fmt.Sprintf("user-%d", i), "222"); err != nil {
			t.Fatal(err)
		}
		<-f.started
	}
	if got := tracked(); got != 6 {
		t.Fatalf("tracked users = %d, want 6", got)
	}

	clock.Advance(2 * time.Minute)
	if _, err := s.Scan(ctx, "fresh", "222"); err != nil {
		t.Fatal(err)
	}
	<-f.started
	if got := tracked(); got != 2 {
		t.Fatalf("tracked users after sweep = %d, want 2 (loading + fresh)", got)
	}
	if st := s.State("user-0"); st.Phase != PhaseIdle || st.RequestID != 0 {
		t.Fatalf("evicted user state = %+v, want idle", st)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("in-flight scan after sweep: %v", err)
	}
	if st := s.State("slow"); st.Phase != PhaseResolved {
		t.Fatalf("in-flight scan did not apply: %+v", st)
	}

	// Reading state never creates entries.
	_ = s.State("never-scanned")
	if got := tracked(); got != 2 {
		t.Fatalf("State grew the map to %d", got)
	}
}

func TestScan_HistoryFailureStillResolves(t *testing.T) {
	s, f, rec := newScanFixture(Preferences{})
	rec.err = errors.New("disk full")
	f.products["222"] = plainRice
	out, err := s.Scan(context.Background(), "u1", "222")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Recorded || out.Record != nil {
		t.Fatalf("outcome claims recording: %+v", out)
	}
	if s.State("u1").Phase != PhaseResolved {
		t.Fatal("state should be resolved")
	}
}

func TestScan_PreferencesErrorIsError(t *testing.T) {
	f := newFakeFetcher()
	f.products["222"] = plainRice
	s := NewScanService(f, fakePrefs{err: errors.New("db down")}, &fakeRecorder{}, zerolog.Nop())
	if _, err := s.Scan(context.Background(), "u1", "222"); err == nil {
		t.Fatal("expected error")
	}
	if st := s.State("u1"); st.Phase != PhaseError {
		t.Fatalf("phase = %q, want error", st.Phase)
	}
}

func TestCheck_DoesNotTouchStateOrHistory(t *testing.T) {
	s, _, rec := newScanFixture(Preferences{Selected: []domain.Allergen{domain.Soy}})
	ctx := context.Background()

	r, err := s.Check(ctx, "u1", domain.Product{Ingredients: []string{"Soy Lecithin"}}, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r.Safety != domain.SafetyUnsafe || r.ProductName != domain.UnknownProductName {
		t.Fatalf("result = %+v", r)
	}

	override := &Preferences{Custom: []string{"coconut"}}
	r, err = s.Check(ctx, "u1", domain.Product{Name: "Bar", Ingredients: []string{"Coconut Oil", "soy lecithin"}}, override)
	if err != nil {
		t.Fatal(err)
	}
	if r.Safety != domain.SafetyUnsafe || r.CustomStatuses["coconut"] {
		t.Fatalf("override not applied: %+v", r)
	}
	if _, ok := r.Statuses[domain.Soy]; ok {
		t.Fatal("override should replace stored selection")
	}

	if len(rec.all()) != 0 || s.State("u1").Phase != PhaseIdle {
		t.Fatal("Check must not record or change state")
	}
}
