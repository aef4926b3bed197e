package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the expiration and staleness sweeps on fixed intervals.
type Sweeper struct {
	logger         *zap.Logger
	links          LinkService
	retentionDays  int
	expireInterval time.Duration
	staleInterval  time.Duration
}

// SweeperOptions configures the sweep schedule.
type SweeperOptions struct {
	RetentionDays  int
	ExpireInterval time.Duration
	StaleInterval  time.Duration
}

// NewSweeper creates a new sweeper over links.
func NewSweeper(logger *zap.Logger, links LinkService, opts SweeperOptions) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExpireInterval <= 0 {
		opts.ExpireInterval = 5 * time.Minute
	}
	if opts.StaleInterval <= 0 {
		opts.StaleInterval = 24 * time.Hour
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	return &Sweeper{
		logger:         logger,
		links:          links,
		retentionDays:  opts.RetentionDays,
		expireInterval: opts.ExpireInterval,
		staleInterval:  opts.StaleInterval,
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	expireTicker := time.NewTicker(s.expireInterval)
	defer expireTicker.Stop()
	staleTicker := time.NewTicker(s.staleInterval)
	defer staleTicker.Stop()

	for {
		select {
		case <-expireTicker.C:
			s.SweepExpirations(ctx)
		case <-staleTicker.C:
			s.SweepStale(ctx, s.retentionDays)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		}
	}
}

// SweepExpirations runs one expiration sweep and logs its outcome.
func (s *Sweeper) SweepExpirations(ctx context.Context) {
	expired, err := s.links.SweepExpirations(ctx)
	if err != nil {
		s.logger.Error("failed to expire links", zap.Error(err))
		return
	}
	if len(expired) > 0 {
		s.logger.Info("expired links", zap.Int("count", len(expired)))
	}
}

// SweepStale runs one staleness sweep and logs its outcome.
func (s *Sweeper) SweepStale(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = s.retentionDays
	}
	deleted, err := s.links.SweepStale(ctx, retentionDays)
	if err != nil {
		s.logger.Error("failed to delete stale links", zap.Int("retention_days", retentionDays), zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("deleted stale links",
			zap.Int("count", len(deleted)),
			zap.Int("retention_days", retentionDays),
		)
	}
}
