// Package scheduler runs the periodic lifecycle jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacebook/internal/models"
)

type ElapsedLister interface {
	ListElapsedActive(ctx context.Context, today time.Time, limit int) ([]models.Booking, error)
}

type Completer interface {
	CompleteBooking(ctx context.Context, id string) (*models.Booking, error)
}

type CompletionConfig struct {
	Interval  time.Duration
	BatchSize int
	Location  *time.Location
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Found     int
	Completed int
	Failed    int
}

// CompletionSweeper marks active bookings whose date has passed as completed.
type CompletionSweeper struct {
	cfg       CompletionConfig
	lister    ElapsedLister
	completer Completer
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewCompletionSweeper(cfg CompletionConfig, lister ElapsedLister, completer Completer, logger *zerolog.Logger) *CompletionSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &CompletionSweeper{
		cfg:       cfg,
		lister:    lister,
		completer: completer,
		now:       time.Now,
		logger:    logger.With().Str("component", "completion_sweeper").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Start sweeps once, then on every interval until ctx ends or Stop is called.
func (s *CompletionSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("completion sweeper started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("completion sweep failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("completion sweeper stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("completion sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *CompletionSweeper) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// Sweep completes every elapsed active booking, one batch at a time. A batch
// in which nothing could be completed ends the pass so a stuck row cannot
// spin it.
func (s *CompletionSweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	start := s.now()
	today := start.In(s.cfg.Location)

	for {
		batch, err := s.lister.ListElapsedActive(ctx, today, s.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		stats.Found += len(batch)

		progressed := 0
		for i := range batch {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if _, err := s.completer.CompleteBooking(ctx, batch[i].ID); err != nil {
				stats.Failed++
				s.logger.Warn().Err(err).Str("booking_id", batch[i].ID).Msg("failed to complete booking")
				continue
			}
			stats.Completed++
			progressed++
		}
		if len(batch) < s.cfg.BatchSize || progressed == 0 {
			break
		}
	}

	if stats.Found > 0 {
		s.logger.Info().
			Int("found", stats.Found).
			Int("completed", stats.Completed).
			Int("failed", stats.Failed).
			Dur("duration", s.now().Sub(start)).
			Msg("completion sweep finished")
	}
	return stats, nil
}
