package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

func newHistory(t *testing.T, clock *fakeClock) *HistoryService {
	t.Helper()
	s := NewHistoryService(newServiceDB(t), gormRepo{})
	s.Now = clock.Now
	return s
}

func TestHistoryAppend_DedupWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s := newHistory(t, clock)
	ctx := context.Background()

	first, added, err := s.Append(ctx, "u1", "123", "Milk", domain.SafetyUnsafe)
	if err != nil || !added {
		t.Fatalf("first append = (%v, %v)", added, err)
	}

	clock.Advance(2 * time.Second)
	dup, added, err := s.Append(ctx, "u1", "123", "Milk", domain.SafetyUnsafe)
	if err != nil {
		t.Fatalf("dup append: %v", err)
	}
	if added || dup.ID != first.ID {
		t.Fatalf("expected repeat inside window to be dropped, got added=%v id=%s", added, dup.ID)
	}

	// Different product inside the window is recorded.
	if _, added, _ := s.Append(ctx, "u1", "456", "Bread", domain.SafetySafe); !added {
		t.Fatal("different barcode should be recorded")
	}
	clock.Advance(time.Second)
	// Same barcode again is no longer the head, so it is recorded too.
	if _, added, _ := s.Append(ctx, "u1", "123", "Milk", domain.SafetyUnsafe); !added {
		t.Fatal("repeat of a non-head record should be recorded")
	}

	clock.Advance(5 * time.Second)
	if _, added, _ := s.Append(ctx, "u1", "123", "Milk", domain.SafetyUnsafe); !added {
		t.Fatal("repeat after the window should be recorded")
	}

	items, total, err := s.ListPage(ctx, "u1", 1, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 4 || len(items) != 4 {
		t.Fatalf("expected 4 records, got total=%d len=%d", total, len(items))
	}
	if items[0].Barcode != "123" || items[1].Barcode != "123" || items[2].Barcode != "456" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestHistoryAppend_FutureDatedHeadDoesNotSwallowScans(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s := newHistory(t, clock)
	ctx := context.Background()

	// A device with a fast clock synced a record an hour ahead.
	ahead := []domain.ScanRecord{{ID: "r1", Barcode: "123", ProductName: "Milk", ScannedAt: clock.Now().Add(time.Hour)}}
	if _, err := s.Merge(ctx, "u1", ahead); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	clock.Advance(30 * time.Minute)
	rec, added, err := s.Append(ctx, "u1", "123", "Milk", domain.SafetyUnsafe)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !added || rec.ID == "r1" {
		t.Fatalf("scan 30m away from the head must be recorded, got added=%v id=%s", added, rec.ID)
	}

	// Within the window on the far side of the head still deduplicates.
	clock.Advance(30*time.Minute - 2*time.Second)
	s2 := newHistory(t, clock)
	if _, err := s2.Merge(ctx, "u1", []domain.ScanRecord{{ID: "r2", Barcode: "9", ProductName: "Tea", ScannedAt: clock.Now().Add(2 * time.Second)}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, added, _ := s2.Append(ctx, "u1", "9", "Tea", domain.SafetySafe); added {
		t.Fatal("repeat 2s before a future head should be deduplicated")
	}
}

func TestHistoryAppend_WindowDisabled(t *testing.T) {
	clock := newFakeClock(time.Now())
	s := newHistory(t, clock)
	s.DedupWindow = 0
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, added, err := s.Append(ctx, "u1", "1", "P", domain.SafetySafe); err != nil || !added {
			t.Fatalf("append %d = (%v, %v)", i, added, err)
		}
	}
}

func TestHistoryAppend_InvalidSafetyBecomesUnknown(t *testing.T) {
	s := newHistory(t, newFakeClock(time.Now()))
	rec, _, err := s.Append(context.Background(), "u1", "1", "P", domain.SafetyStatus("maybe"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Safety != domain.SafetyUnknown {
		t.Fatalf("safety = %q, want unknown", rec.Safety)
	}
}

func TestHistoryListPage_EmptyAndDefaults(t *testing.T) {
	s := newHistory(t, newFakeClock(time.Now()))
	items, total, err := s.ListPage(context.Background(), "nobody", 0, 0)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("ListPage empty = (%v, %d, %v)", items, total, err)
	}
}

func TestHistoryClearAndStats(t *testing.T) {
	clock := newFakeClock(time.Now())
	s := newHistory(t, clock)
	ctx := context.Background()

	for _, bc := range []string{"1", "2", "3"} {
		if _, _, err := s.Append(ctx, "u1", bc, "P"+bc, domain.SafetySafe); err != nil {
			t.Fatal(err)
		}
	}
	if n, at, err := s.Stats(ctx, "u1"); err != nil || n != 3 || at == nil {
		t.Fatalf("Stats = (%d, %v, %v)", n, at, err)
	}

	n, err := s.Clear(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("Clear = (%d, %v), want (3, nil)", n, err)
	}
	if n, at, err := s.Stats(ctx, "u1"); err != nil || n != 0 || at != nil {
		t.Fatalf("Stats after clear = (%d, %v, %v)", n, at, err)
	}
}

func TestHistoryExportCSV(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s := newHistory(t, clock)
	ctx := context.Background()

	if _, _, err := s.Append(ctx, "u1", "111", "Plain, Crackers", domain.SafetySafe); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, _, err := s.Append(ctx, "u1", "222", "Milk", domain.SafetyUnsafe); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, _, err := s.Append(ctx, "u1", "333", "Mystery", domain.SafetyUnknown); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.ExportCSV(ctx, "u1", &buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	want := "Barcode,Product,Date,Safe\n" +
		"333,Mystery,2025-07-01T10:02:00Z,Unknown\n" +
		"222,Milk,2025-07-01T10:01:00Z,No\n" +
		"111,\"Plain, Crackers\",2025-07-01T10:00:00Z,Yes\n"
	if buf.String() != want {
		t.Fatalf("csv mismatch:\n got: %q\nwant: %q", buf.String(), want)
	}
}

func TestHistoryExportCSV_EmptyHasHeader(t *testing.T) {
	s := newHistory(t, newFakeClock(time.Now()))
	var buf bytes.Buffer
	if err := s.ExportCSV(context.Background(), "u1", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Barcode,Product,Date,Safe\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestHistoryMerge_UnionByIDWithLegacyPayload(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s := newHistory(t, clock)
	ctx := context.Background()

	local, _, err := s.Append(ctx, "u1", "111", "Local", domain.SafetySafe)
	if err != nil {
		t.Fatal(err)
	}

	payload := `[
	  {"id": "` + local.ID + `", "barcode": "111", "productName": "Remote copy", "isSafe": false},
	  {"id": "r-legacy", "barcode": "222", "productName": "Old", "dateScanned": "2024-01-02T03:04:05Z", "isSafe": true},
	  {"id": "r-none", "barcode": "333", "product_name": ""}
	]`
	var recs []domain.ScanRecord
	if err := json.Unmarshal([]byte(payload), &recs); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	n, err := s.Merge(ctx, "u1", recs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}

	items, _, _ := s.ListPage(ctx, "u1", 1, 10)
	byID := map[string]domain.ScanRecord{}
	for _, it := range items {
		byID[it.ID] = it
	}
	if got := byID[local.ID]; got.ProductName != "Local" || got.Safety != domain.SafetySafe {
		t.Fatalf("local record changed: %+v", got)
	}
	if got := byID["r-legacy"]; got.Safety != domain.SafetySafe || got.ScannedAt.Year() != 2024 {
		t.Fatalf("legacy record: %+v", got)
	}
	if got := byID["r-none"]; got.Safety != domain.SafetyUnknown || got.ProductName != domain.UnknownProductName {
		t.Fatalf("record without verdict: %+v", got)
	}
}

func TestHistoryMerge_MixedOffsetsKeepNewestFirst(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s := newHistory(t, clock)
	ctx := context.Background()

	plus5 := time.FixedZone("+05:00", 5*60*60)
	recs := []domain.ScanRecord{
		{ID: "older", Barcode: "1", ProductName: "Older", ScannedAt: time.Date(2025, 7, 1, 12, 0, 0, 0, plus5)}, // 07:00Z
		{ID: "newer", Barcode: "2", ProductName: "Newer", ScannedAt: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)},
	}
	if _, err := s.Merge(ctx, "u1", recs); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	items, _, err := s.ListPage(ctx, "u1", 1, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(items) != 2 || items[0].ID != "newer" || items[1].ID != "older" {
		t.Fatalf("want newer before older, got %+v", items)
	}
	if !items[1].ScannedAt.Equal(time.Date(2025, 7, 1, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("older scanned_at = %v", items[1].ScannedAt)
	}

	// The +05:00 record must not be taken as the dedup head either.
	clock.Set(time.Date(2025, 7, 1, 9, 0, 2, 0, time.UTC))
	if _, added, _ := s.Append(ctx, "u1", "2", "Newer", domain.SafetyUnknown); added {
		t.Fatal("repeat of the true head inside the window should be deduplicated")
	}
}

func TestHistoryMerge_RejectsMissingBarcode(t *testing.T) {
	s := newHistory(t, newFakeClock(time.Now()))
	_, err := s.Merge(context.Background(), "u1", []domain.ScanRecord{{ID: "x", Barcode: "  "}})
	if !errors.Is(err, ErrInvalidHistoryRecord) {
		t.Fatalf("expected ErrInvalidHistoryRecord, got %v", err)
	}
}
