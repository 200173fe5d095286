package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/config"
	"github.com/tOgg1/omega/internal/logging"
	"go.uber.org/multierr"
)

const retentionBatchSize = 1000

// RetentionStore is the slice of the event repository retention needs.
type RetentionStore interface {
	Count(ctx context.Context) (int64, error)
	OldestTimestamp(ctx context.Context) (*time.Time, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteExcess(ctx context.Context, keep, limit int) (int64, error)
}

// RetentionService prunes persisted events by age and count.
type RetentionService struct {
	cfg     config.EventRetentionConfig
	repo    RetentionStore
	logger  zerolog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	lastCleanup  time.Time
	totalDeleted int64
}

// RetentionStats contains statistics about retention operations.
type RetentionStats struct {
	LastCleanup  time.Time  `json:"last_cleanup"`
	TotalDeleted int64      `json:"total_deleted"`
	EventCount   int64      `json:"event_count"`
	OldestEvent  *time.Time `json:"oldest_event,omitempty"`
}

// NewRetentionService creates a new retention service.
func NewRetentionService(cfg config.EventRetentionConfig, repo RetentionStore) *RetentionService {
	return &RetentionService{
		cfg:    cfg,
		repo:   repo,
		logger: logging.Component("retention"),
		stopCh: make(chan struct{}),
	}
}

// Start runs an initial cleanup and begins the background job.
func (s *RetentionService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention service already running")
	}
	s.running = true
	s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info().Msg("event retention is disabled")
		return nil
	}

	s.logger.Info().
		Dur("cleanup_interval", s.cfg.CleanupInterval).
		Dur("max_age", s.cfg.MaxAge).
		Int("max_count", s.cfg.MaxCount).
		Msg("starting event retention service")

	if err := s.RunCleanup(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial cleanup failed")
	}

	s.wg.Add(1)
	go s.cleanupLoop(ctx)

	return nil
}

// Stop stops the background cleanup job.
func (s *RetentionService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("retention service stopped")
}

// RunCleanup runs a single cleanup cycle. Age and count limits are both
// applied even if one of them fails.
func (s *RetentionService) RunCleanup(ctx context.Context) error {
	startTime := time.Now()

	var deletedByAge, deletedByCount int64
	var errs error

	if s.cfg.MaxAge > 0 {
		n, err := s.cleanupByAge(ctx, startTime.Add(-s.cfg.MaxAge))
		deletedByAge = n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup by age failed: %w", err))
		}
	}

	if s.cfg.MaxCount > 0 {
		n, err := s.cleanupByCount(ctx, s.cfg.MaxCount)
		deletedByCount = n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup by count failed: %w", err))
		}
	}

	s.mu.Lock()
	s.lastCleanup = startTime
	s.totalDeleted += deletedByAge + deletedByCount
	s.mu.Unlock()

	if deletedByAge+deletedByCount > 0 {
		s.logger.Info().
			Int64("deleted_by_age", deletedByAge).
			Int64("deleted_by_count", deletedByCount).
			Dur("duration", time.Since(startTime)).
			Msg("cleanup completed")
	} else {
		s.logger.Debug().Msg("cleanup completed, no events to remove")
	}

	return errs
}

// Stats returns current retention statistics.
func (s *RetentionService) Stats(ctx context.Context) (*RetentionStats, error) {
	s.mu.Lock()
	stats := &RetentionStats{
		LastCleanup:  s.lastCleanup,
		TotalDeleted: s.totalDeleted,
	}
	s.mu.Unlock()

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get event count: %w", err)
	}
	stats.EventCount = count

	oldest, err := s.repo.OldestTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest event: %w", err)
	}
	stats.OldestEvent = oldest

	return stats, nil
}

func (s *RetentionService) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.RunCleanup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("cleanup cycle failed")
			}
		}
	}
}

func (s *RetentionService) cleanupByAge(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		count, err := s.repo.DeleteOlderThan(ctx, cutoff, retentionBatchSize)
		if err != nil {
			return deleted, err
		}
		deleted += count
		if count < retentionBatchSize {
			return deleted, nil
		}
	}
}

func (s *RetentionService) cleanupByCount(ctx context.Context, maxCount int) (int64, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int64
	excess := total - int64(maxCount)
	for excess > 0 {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		batch := retentionBatchSize
		if int64(batch) > excess {
			batch = int(excess)
		}
		count, err := s.repo.DeleteExcess(ctx, maxCount, batch)
		if err != nil {
			return deleted, err
		}
		if count == 0 {
			break
		}
		deleted += count
		excess -= count
	}
	return deleted, nil
}
