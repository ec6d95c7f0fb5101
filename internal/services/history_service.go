// Package services – HistoryService
//
// HistoryService owns the per-user scan history: it appends completed scans
// (dropping an immediate repeat of the same product), pages and clears the
// list, exports it as CSV, and merges records pushed from another device.
package services

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/utils"
)

// HistoryRepo defines the repository contract required by HistoryService.
type HistoryRepo interface {
	CreateScanRecord(ctx context.Context, db *gorm.DB, rec *domain.ScanRecord) error
	LatestScanRecord(ctx context.Context, db *gorm.DB, userID string) (*domain.ScanRecord, error)
	ListScanRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScanRecord, error)
	CountScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListScanRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ScanRecord, error)
	DeleteScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	InsertScanRecordsIgnoreExisting(ctx context.Context, db *gorm.DB, userID string, recs []domain.ScanRecord) (int64, error)
	HistoryStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// HistoryService manages scan history.
type HistoryService struct {
	DB   *gorm.DB
	Repo HistoryRepo

	// DedupWindow drops an Append identical (barcode and product name) to the
	// most recent record when it arrives within this window. Zero disables it.
	DedupWindow time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	// mu serializes read-then-insert in Append.
	mu sync.Mutex
}

// NewHistoryService constructs a HistoryService with a 5s dedup window.
func NewHistoryService(db *gorm.DB, r HistoryRepo) *HistoryService {
	return &HistoryService{DB: db, Repo: r, DedupWindow: 5 * time.Second, Now: time.Now}
}

func (s *HistoryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Append records one completed scan at the head of the user's history. It
// returns the stored record and true, or the existing head record and false
// when the scan was a repeat inside DedupWindow.
func (s *HistoryService) Append(ctx context.Context, userID, barcode, productName string, safety domain.SafetyStatus) (*domain.ScanRecord, bool, error) {
	ctx, span := otel.Tracer("services/HistoryService").Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("product.barcode", barcode),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.DedupWindow > 0 {
		head, err := s.Repo.LatestScanRecord(ctx, s.DB, userID)
		switch {
		case err == nil:
			if head.Barcode == barcode && head.ProductName == productName && absDuration(now.Sub(head.ScannedAt)) < s.DedupWindow {
				span.SetAttributes(attribute.Bool("history.deduplicated", true))
				return head, false, nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, false, err
		}
	}

	if !safety.Valid() {
		safety = domain.SafetyUnknown
	}
	rec := &domain.ScanRecord{
		UserID:      userID,
		Barcode:     barcode,
		ProductName: productName,
		ScannedAt:   now,
		Safety:      safety,
	}
	if err := s.Repo.CreateScanRecord(ctx, s.DB, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ListPage returns a page of history, most recent first, plus the total.
func (s *HistoryService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ScanRecord, int64, error) {
	page, pageSize = utils.ClampPage(page, pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountScanRecords(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ScanRecord{}, 0, nil
	}
	items, err := s.Repo.ListScanRecordsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Clear removes the whole history of userID.
func (s *HistoryService) Clear(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Repo.DeleteScanRecords(ctx, s.DB, userID)
}

// Stats exposes count and last change time for ETag computation.
func (s *HistoryService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.HistoryStats(ctx, s.DB, userID)
}

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{"Barcode", "Product", "Date", "Safe"}

// ExportCSV writes the user's full history to w, most recent first. Dates
// are RFC 3339 in UTC; Safe is Yes, No or Unknown.
func (s *HistoryService) ExportCSV(ctx context.Context, userID string, w io.Writer) error {
	ctx, span := otel.Tracer("services/HistoryService").Start(ctx, "ExportCSV",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	recs, err := s.Repo.ListScanRecords(ctx, s.DB, userID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{r.Barcode, r.ProductName, r.ScannedAt.UTC().Format(time.RFC3339), safeLabel(r.Safety)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func safeLabel(s domain.SafetyStatus) string {
	switch s {
	case domain.SafetySafe:
		return "Yes"
	case domain.SafetyUnsafe:
		return "No"
	default:
		return "Unknown"
	}
}

// Merge adds remote records to the user's history. Records whose ID already
// exists are kept as stored; the dedup window does not apply. Missing names
// become "Unknown" and missing timestamps the current time. It returns the
// number of records inserted.
func (s *HistoryService) Merge(ctx context.Context, userID string, recs []domain.ScanRecord) (int64, error) {
	ctx, span := otel.Tracer("services/HistoryService").Start(ctx, "Merge",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("history.incoming", len(recs)),
		),
	)
	defer span.End()

	now := s.now()
	clean := make([]domain.ScanRecord, 0, len(recs))
	for _, r := range recs {
		r.Barcode = strings.TrimSpace(r.Barcode)
		if r.Barcode == "" {
			return 0, ErrInvalidHistoryRecord
		}
		r.ProductName = strings.TrimSpace(r.ProductName)
		if r.ProductName == "" {
			r.ProductName = domain.UnknownProductName
		}
		if r.ScannedAt.IsZero() {
			r.ScannedAt = now
		}
		r.ScannedAt = r.ScannedAt.UTC()
		if !r.Safety.Valid() {
			r.Safety = domain.SafetyUnknown
		}
		r.LegacyIsSafe = nil
		clean = append(clean, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Repo.InsertScanRecordsIgnoreExisting(ctx, s.DB, userID, clean)
}

// absDuration is |d|; synced heads may be dated ahead of this clock.
func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
