package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/crowdlinkhq/crowdlink/internal/services"
	"github.com/crowdlinkhq/crowdlink/pkg/logger"
)

const defaultSweepInterval = 10 * time.Minute

// Option customises Sweeper behaviour.
type Option func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Sweeper periodically applies the time-driven lifecycle transitions:
// expiring pending invitations, cancelling unconfirmed deletion requests,
// and executing deletions whose grace period has elapsed.
type Sweeper struct {
	invitations *services.InvitationService
	deletions   *services.DeletionService
	interval    time.Duration
	cron        *cron.Cron
	log         *zap.Logger
}

// NewSweeper constructs a Sweeper over the lifecycle services.
func NewSweeper(invitations *services.InvitationService, deletions *services.DeletionService, opts ...Option) (*Sweeper, error) {
	if invitations == nil {
		return nil, errors.New("sweeper: invitation service is required")
	}
	if deletions == nil {
		return nil, errors.New("sweeper: deletion service is required")
	}

	sweeper := &Sweeper{
		invitations: invitations,
		deletions:   deletions,
		interval:    defaultSweepInterval,
		log:         logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// Start schedules the recurring sweep. Failures inside a sweep are logged;
// the schedule keeps running.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return errors.New("sweeper: already started")
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("lifecycle sweep finished with errors", zap.Error(err))
		}
	}); err != nil {
		s.cron = nil
		return fmt.Errorf("sweeper: schedule: %w", err)
	}

	s.cron.Start()
	s.log.Info("lifecycle sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// RunOnce executes all sweeps immediately. Each sweep runs even when an
// earlier one fails; the errors are aggregated.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs error

	expired, err := s.invitations.ExpirePending(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire invitations: %w", err))
	} else if expired > 0 {
		s.log.Info("expired pending invitations", zap.Int64("count", expired))
	}

	cancelled, err := s.deletions.ExpireStale(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire deletion requests: %w", err))
	} else if cancelled > 0 {
		s.log.Info("cancelled unconfirmed deletion requests", zap.Int("count", cancelled))
	}

	executed, err := s.deletions.ExecuteDue(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("execute due deletions: %w", err))
	} else if executed > 0 {
		s.log.Info("executed scheduled deletions", zap.Int("count", executed))
	}

	return errs
}
