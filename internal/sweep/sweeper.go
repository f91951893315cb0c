// Package sweep runs the background job that finalizes past appointments.
// Appointments left SCHEDULED after their time plus a grace period become
// COMPLETED; the grace window gives owners time to mark a no-show first.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
)

type Sweeper struct {
	svc      *scheduling.Service
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	batch    int
	now      func() time.Time
}

type Config struct {
	// Interval between sweep passes. Default 1m.
	Interval time.Duration
	// Grace is how long past its time an appointment may stay SCHEDULED
	// before the sweep completes it. Default 15m.
	Grace time.Duration
	// Batch caps rows per pass. Default 50.
	Batch int
}

func NewSweeper(svc *scheduling.Service, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 15 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &Sweeper{
		svc:      svc,
		logger:   logger,
		interval: cfg.Interval,
		grace:    cfg.Grace,
		batch:    cfg.Batch,
		now:      func() time.Time { return model.WallClock(time.Now()) },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("completion sweep started", "interval", s.interval, "grace", s.grace)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("completion sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.grace)
	done, err := s.svc.CompleteDue(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("completion sweep failed", "err", err)
		return
	}
	if done > 0 {
		s.logger.Info("completed past appointments", "count", done, "cutoff", cutoff.Format(model.TimeLayout))
	}
}
