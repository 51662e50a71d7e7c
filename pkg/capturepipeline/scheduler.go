package capturepipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Runner performs one capture run.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// SchedulerConfig holds configuration for a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration
	// Ready gates each attempt. A false result skips the attempt. Nil means always ready.
	Ready func() bool
}

// Scheduler triggers a Runner on a fixed interval. The interval restarts after
// each attempt finishes, whether it ran or was skipped, so runs never overlap.
type Scheduler struct {
	cfg    SchedulerConfig
	runner Runner
	logger zerolog.Logger

	fired   atomic.Int64
	skipped atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(cfg SchedulerConfig, runner Runner, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("capture interval must be positive")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("service", "CaptureScheduler").Logger(),
	}, nil
}

// Start launches the trigger loop. The first attempt happens one interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Capture scheduler started.")
}

// Stop ends the loop and waits for an in-flight run, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Int64("fired", s.fired.Load()).Int64("skipped", s.skipped.Load()).Msg("Capture scheduler stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for in-flight capture to finish.")
		return ctx.Err()
	}
}

// Attempts returns how many attempts ran and how many were skipped.
func (s *Scheduler) Attempts() (fired, skipped int64) {
	return s.fired.Load(), s.skipped.Load()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.attempt(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context) {
	if s.cfg.Ready != nil && !s.cfg.Ready() {
		s.skipped.Add(1)
		s.logger.Warn().Msg("Publisher not ready, skipping capture.")
		return
	}
	s.fired.Add(1)
	if _, err := s.runner.Run(ctx); err != nil && errors.Is(err, ErrBusy) {
		s.logger.Debug().Msg("Capture still running from a manual trigger.")
	}
}
