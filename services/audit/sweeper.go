package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/arcoportus/portal/config"
	"github.com/arcoportus/portal/internal/observability"
	"github.com/arcoportus/portal/repositories"
	"go.uber.org/zap"
)

// SweeperConfig controls the retention schedule
type SweeperConfig struct {
	Retention    time.Duration
	Interval     time.Duration
	InitialDelay time.Duration
}

// DefaultSweeperConfig keeps 30 days of events and sweeps daily, one minute after startup
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Retention:    config.AuditRetention,
		Interval:     config.SweepInterval,
		InitialDelay: time.Minute,
	}
}

// Sweeper deletes audit events older than the retention window
type Sweeper struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
	cfg    SweeperConfig
	now    func() time.Time
}

// NewSweeper creates a retention sweeper
func NewSweeper(repo repositories.AuditRepository, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Sweeper{repo: repo, logger: logger, cfg: cfg, now: time.Now}
}

// Sweep deletes every event created strictly before now minus the retention window
// and returns the number of rows removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)

	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		observability.AuditSweepFailuresTotal.Inc()
		return 0, fmt.Errorf("audit retention sweep failed: %w", err)
	}

	observability.AuditSweepDeletedTotal.Add(float64(deleted))
	observability.AuditSweepLastSuccess.SetToCurrentTime()
	s.logger.Info("audit retention sweep completed",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

// Run sweeps after the initial delay and then on every interval until ctx is done.
// A failed sweep is logged; the next tick retries. Run returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("audit retention sweeper scheduled",
		zap.Duration("initial_delay", s.cfg.InitialDelay),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("retention", s.cfg.Retention))

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	s.sweepLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("audit retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Sweeper) sweepLogged(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("audit retention sweep failed, retrying on next tick", zap.Error(err))
	}
}
