package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

func TestGetIdempotency_BlankScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "scans", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:        "expired",
		UserID:    "u1",
		Scope:     "scans",
		Key:       "k1",
		Status:    200,
		Body:      []byte(`{}`),
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if rec, err := GetIdempotency(context.Background(), db, "u1", "scans", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "scans", "missing", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_SuccessReplayAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "u9", "scans", "k9", 201, []byte(`{"ok":true}`), ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec.ID == "" || rec.UserID != "u9" || rec.Scope != "scans" || rec.Key != "k9" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "u9", "scans", "k9", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.Status != 201 || string(got.Body) != `{"ok":true}` {
		t.Fatalf("unexpected replay record: %+v", got)
	}

	if _, err := CreateIdempotency(ctx, db, "u9", "scans", "k9", 200, nil, ttl); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Same key in another scope is independent.
	if _, err := CreateIdempotency(ctx, db, "u9", "other", "k9", 200, nil, ttl); err != nil {
		t.Fatalf("other scope: %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	_, err := CreateIdempotency(context.Background(), db, "uX", "scans", "kX", 200, nil, time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "scans", "live", 200, nil, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "scans", "dead", 200, nil, -time.Minute); err != nil {
		t.Fatal(err)
	}
	n, err := PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("purge = (%d, %v), want (1, nil)", n, err)
	}
}
