package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"impact-escrow/escrow-engine/internal/projects"
)

// Escrow is the part of the escrow engine the sweeper drives
type Escrow interface {
	ListOpen(ctx context.Context) ([]*projects.Project, error)
	EvaluateDeadline(ctx context.Context, id string) (*projects.Project, error)
	Release(ctx context.Context, id string) (*projects.Project, error)
	Clawback(ctx context.Context, id string) (*projects.Project, error)
	Now() time.Time
}

// SweeperConfig configures the deadline sweeper
type SweeperConfig struct {
	Spec                string        `json:"spec"`
	Concurrency         int           `json:"concurrency"`
	ClawbackGracePeriod time.Duration `json:"clawback_grace_period"`
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Spec:                "@every 1m",
		Concurrency:         8,
		ClawbackGracePeriod: 7 * 24 * time.Hour,
	}
}

// SweepResult counts what one sweep did
type SweepResult struct {
	Scanned   int           `json:"scanned"`
	Alerted   int           `json:"alerted"`
	Released  int           `json:"released"`
	Cancelled int           `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// DeadlineSweeper periodically moves open projects along their lifecycle:
// missed deadlines raise an alert, satisfied projects whose release failed are
// retried, and alerts past the grace period are clawed back.
type DeadlineSweeper struct {
	cron    *cron.Cron
	escrow  Escrow
	cfg     SweeperConfig
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

// NewDeadlineSweeper creates a sweeper. Ticks never overlap.
func NewDeadlineSweeper(escrow Escrow, cfg SweeperConfig, metrics *Metrics, logger *zap.Logger) *DeadlineSweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &DeadlineSweeper{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		escrow:  escrow,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Start schedules sweeps on the configured spec until Stop is called
func (s *DeadlineSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("deadline sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.cfg.Spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Deadline sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Spec, err)
	}

	s.logger.Info("Starting deadline sweeper",
		zap.String("spec", s.cfg.Spec),
		zap.Int("concurrency", s.cfg.Concurrency))
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish
func (s *DeadlineSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.logger.Info("Stopping deadline sweeper")
	<-s.cron.Stop().Done()
	s.running = false
}

// RunOnce sweeps every open project once, at most Concurrency at a time.
// Per-project failures are logged and counted, never returned.
func (s *DeadlineSweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	open, err := s.escrow.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open projects: %w", err)
	}
	s.metrics.OpenProjects.Set(float64(len(open)))

	now := s.escrow.Now()
	counts := &tally{}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, p := range open {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			counts.add(s.sweep(ctx, p, now))
			return nil
		})
	}
	g.Wait()

	result := counts.result()
	result.Scanned = len(open)
	result.Duration = time.Since(started)

	s.metrics.Sweeps.Add(1)
	s.metrics.SweepSeconds.Observe(result.Duration.Seconds())
	s.logger.Info("Deadline sweep completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("alerted", result.Alerted),
		zap.Int("released", result.Released),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return &result, ctx.Err()
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeAlerted
	outcomeReleased
	outcomeCancelled
	outcomeSkipped
	outcomeFailed
)

func (s *DeadlineSweeper) sweep(ctx context.Context, p *projects.Project, now time.Time) outcome {
	deadline := p.Conditions.Deadline
	switch {
	case p.Status == projects.StatusAlert:
		if now.Before(deadline.Add(s.cfg.ClawbackGracePeriod)) {
			return outcomeNone
		}
		return s.act(ctx, "clawback", p, s.escrow.Clawback, projects.StatusCancelled, outcomeCancelled)

	case p.ConditionsMet != nil || (p.Conditions.ThresholdsMet() && !now.After(deadline)):
		return s.act(ctx, "release", p, s.escrow.Release, projects.StatusFunded, outcomeReleased)

	case now.After(deadline):
		return s.act(ctx, "evaluate", p, s.escrow.EvaluateDeadline, projects.StatusAlert, outcomeAlerted)
	}
	return outcomeNone
}

func (s *DeadlineSweeper) act(
	ctx context.Context,
	action string,
	p *projects.Project,
	call func(context.Context, string) (*projects.Project, error),
	want projects.Status,
	success outcome,
) outcome {
	updated, err := call(ctx, p.ID)
	switch {
	case err == nil:
		if updated != nil && updated.Status == want {
			s.metrics.Actions.With("action", action).Add(1)
			return success
		}
		return outcomeNone
	case projects.IsOrdering(err), errors.Is(err, projects.ErrNotFound):
		s.logger.Warn("Sweep action skipped",
			zap.String("action", action),
			zap.String("project_id", p.ID),
			zap.Error(err))
		return outcomeSkipped
	default:
		s.metrics.Failures.With("action", action).Add(1)
		s.logger.Error("Sweep action failed",
			zap.String("action", action),
			zap.String("project_id", p.ID),
			zap.Error(err))
		return outcomeFailed
	}
}

type tally struct {
	mu     sync.Mutex
	counts [outcomeFailed + 1]int
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	t.counts[o]++
	t.mu.Unlock()
}

func (t *tally) result() SweepResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SweepResult{
		Alerted:   t.counts[outcomeAlerted],
		Released:  t.counts[outcomeReleased],
		Cancelled: t.counts[outcomeCancelled],
		Skipped:   t.counts[outcomeSkipped],
		Failed:    t.counts[outcomeFailed],
	}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
