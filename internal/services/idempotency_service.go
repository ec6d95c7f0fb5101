package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/repo"
)

// IdempotencyRepo defines the repository contract required by
// IdempotencyService.
type IdempotencyRepo interface {
	GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error)
}

// IdempotencyService stores and replays responses of POST requests that
// carry an Idempotency-Key.
type IdempotencyService struct {
	DB   *gorm.DB
	Repo IdempotencyRepo
	TTL  time.Duration
}

// NewIdempotencyService constructs an IdempotencyService with a 24h TTL.
func NewIdempotencyService(db *gorm.DB, r IdempotencyRepo) *IdempotencyService {
	return &IdempotencyService{DB: db, Repo: r, TTL: 24 * time.Hour}
}

// Lookup returns the stored response for (userID, scope, key), or nil when
// there is none.
func (s *IdempotencyService) Lookup(ctx context.Context, userID, scope, key string) (*domain.Idempotency, error) {
	rec, err := s.Repo.GetIdempotency(ctx, s.DB, userID, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Save stores a response. A concurrent save of the same key is not an error;
// the first one wins.
func (s *IdempotencyService) Save(ctx context.Context, userID, scope, key string, status int, body []byte) error {
	_, err := s.Repo.CreateIdempotency(ctx, s.DB, userID, scope, key, status, body, s.TTL)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Exists reports whether a record is live at now. It matches the signature
// of middleware.IdempotencyLookup.
func (s *IdempotencyService) Exists(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	_, err := s.Repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
