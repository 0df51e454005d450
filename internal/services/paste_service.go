package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/johnwmail/pastebin-lite/config"
	"github.com/johnwmail/pastebin-lite/internal/events"
	"github.com/johnwmail/pastebin-lite/internal/metrics"
	"github.com/johnwmail/pastebin-lite/models"
	"github.com/johnwmail/pastebin-lite/storage"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when a paste exists but has expired or used up
// its views. Callers must treat it exactly like storage.ErrNotFound.
var ErrUnavailable = errors.New("paste unavailable")

const defaultLockTimeout = 5 * time.Second

// FetchResult is what a successful fetch returns to the caller
type FetchResult struct {
	Content        string
	RemainingViews *int64
	ExpiresAt      *time.Time
}

// PasteService handles paste business logic
type PasteService struct {
	store       storage.PasteStore
	publisher   events.Publisher
	logger      *zap.Logger
	lockTimeout time.Duration
	now         Clock
}

// NewPasteService creates a new paste service. A nil publisher or logger
// disables events or logging respectively.
func NewPasteService(store storage.PasteStore, cfg *config.Config, publisher events.Publisher, logger *zap.Logger) *PasteService {
	if publisher == nil {
		publisher = events.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lockTimeout := defaultLockTimeout
	if cfg != nil && cfg.LockTimeout > 0 {
		lockTimeout = cfg.LockTimeout
	}
	return &PasteService{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		lockTimeout: lockTimeout,
		now:         WallClock,
	}
}

// CreatePaste validates the request and stores a new paste. Creation
// timestamps always come from the wall clock.
func (s *PasteService) CreatePaste(ctx context.Context, req CreatePasteRequest) (*models.Paste, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate paste id: %w", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	paste := &models.Paste{
		ID:        id.String(),
		Content:   req.Content,
		MaxViews:  req.MaxViews,
		CreatedAt: now,
	}
	if req.TTLSeconds != nil {
		expires := now.Add(time.Duration(*req.TTLSeconds) * time.Second)
		paste.ExpiresAt = &expires
	}

	start := time.Now()
	err = s.store.Create(ctx, paste)
	metrics.ObserveStore("create", start)
	if err != nil {
		return nil, fmt.Errorf("failed to store paste: %w", err)
	}
	metrics.PastesCreated.Inc()

	s.logger.Debug("paste created",
		zap.String("id", paste.ID),
		zap.Int("size", len(paste.Content)),
		zap.Bool("ttl", paste.ExpiresAt != nil),
		zap.Bool("max_views", paste.MaxViews != nil))

	if err := s.publisher.PublishPasteCreated(ctx, events.PasteCreated{
		ID:        paste.ID,
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
		MaxViews:  paste.MaxViews,
	}); err != nil {
		s.logger.Warn("failed to publish paste.created", zap.String("id", paste.ID), zap.Error(err))
	}

	return paste, nil
}

// isCanonicalID accepts only the lowercase dashed form that CreatePaste hands
// out, so every paste has exactly one address
func isCanonicalID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// FetchPaste performs the locked check-expire-increment sequence. Expiry is
// judged with clock on the locked record, and the view counter is written
// before the lock is released. Missing pastes yield storage.ErrNotFound,
// expired or exhausted ones ErrUnavailable.
func (s *PasteService) FetchPaste(ctx context.Context, id string, clock Clock) (*FetchResult, error) {
	if !isCanonicalID(id) {
		metrics.FetchTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return nil, storage.ErrNotFound
	}

	if clock == nil {
		clock = WallClock
	}

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		result  FetchResult
		viewed  models.Paste
		started = time.Now()
	)
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		paste, err := tx.LockedRead(id)
		if err != nil {
			return err
		}

		if paste.IsUnavailable(clock()) {
			return ErrUnavailable
		}

		paste.CurrentViews++
		if err := tx.Update(paste); err != nil {
			return err
		}

		result = FetchResult{
			Content:        paste.Content,
			RemainingViews: paste.RemainingViews(),
			ExpiresAt:      paste.ExpiresAt,
		}
		viewed = *paste
		return nil
	})
	metrics.ObserveStore("fetch", started)

	switch {
	case err == nil:
		metrics.FetchTotal.WithLabelValues(metrics.OutcomeServed).Inc()
	case errors.Is(err, storage.ErrNotFound):
		metrics.FetchTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return nil, storage.ErrNotFound
	case errors.Is(err, ErrUnavailable):
		metrics.FetchTotal.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return nil, ErrUnavailable
	default:
		metrics.FetchTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to fetch paste %s: %w", id, err)
	}

	if err := s.publisher.PublishPasteViewed(context.WithoutCancel(ctx), events.PasteViewed{
		ID:             viewed.ID,
		ViewedAt:       s.now().UTC(),
		CurrentViews:   viewed.CurrentViews,
		RemainingViews: result.RemainingViews,
	}); err != nil {
		s.logger.Warn("failed to publish paste.viewed", zap.String("id", viewed.ID), zap.Error(err))
	}

	return &result, nil
}

// Ping reports whether the store is reachable
func (s *PasteService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
