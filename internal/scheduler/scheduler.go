// Package scheduler starts campaigns whose scheduled time has arrived and
// keeps resuming them until the send completes.
//
// A sweep runs one orchestrator batch per due campaign. SCHEDULED campaigns
// start a fresh pass; SENDING campaigns that came from a schedule get a
// resume batch so that large audiences finish over successive sweeps
// without an operator. Only one replica sweeps at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/distlock"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/service/sending"
)

// LockKey names the sweep lock shared by all replicas.
const LockKey = "campaign-scheduler"

// ErrBusy is returned when another sweep holds the lock.
var ErrBusy = errors.New("scheduler sweep already running")

// Sender runs one send batch.
type Sender interface {
	Send(ctx context.Context, campaignID string, opts sending.Options) (*sending.Result, error)
}

// Store finds campaigns in a status whose scheduled_at is not after now.
type Store interface {
	ListDue(ctx context.Context, status domain.CampaignStatus, now time.Time) ([]domain.Campaign, error)
}

// CampaignRun is the outcome of one campaign within a sweep.
type CampaignRun struct {
	CampaignID   string          `json:"campaignId"`
	CampaignName string          `json:"campaignName"`
	Mode         domain.SendMode `json:"mode"`
	Result       *sending.Result `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Scheduler sweeps due campaigns.
type Scheduler struct {
	store      Store
	sender     Sender
	locks      distlock.Factory
	batchSize  int
	now        func() time.Time
	runTimeout time.Duration

	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocks guards sweeps with a lock on LockKey taken from f.
func WithLocks(f distlock.Factory) Option { return func(s *Scheduler) { s.locks = f } }

// WithBatchSize overrides the orchestrator's default batch size.
func WithBatchSize(n int) Option { return func(s *Scheduler) { s.batchSize = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithRunTimeout bounds each cron-triggered sweep.
func WithRunTimeout(d time.Duration) Option { return func(s *Scheduler) { s.runTimeout = d } }

func New(store Store, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		sender:     sender,
		now:        time.Now,
		runTimeout: 5 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunDue performs one sweep. Per-campaign failures are reported in the
// returned runs; only a failure to list campaigns or take the lock is
// returned as an error.
func (s *Scheduler) RunDue(ctx context.Context) ([]CampaignRun, error) {
	if s.locks != nil {
		lock := s.locks(LockKey)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire scheduler lock: %w", err)
		}
		if !ok {
			return nil, ErrBusy
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release scheduler lock", "error", err)
			}
		}()
	}

	now := s.now()
	runs := []CampaignRun{}
	seen := make(map[string]bool)

	for _, step := range []struct {
		status domain.CampaignStatus
		mode   domain.SendMode
	}{
		{domain.CampaignScheduled, domain.ModeFresh},
		{domain.CampaignSending, domain.ModeResume},
	} {
		due, err := s.store.ListDue(ctx, step.status, now)
		if err != nil {
			return runs, fmt.Errorf("list due %s campaigns: %w", step.status, err)
		}
		for _, c := range due {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if ctx.Err() != nil {
				return runs, ctx.Err()
			}
			runs = append(runs, s.run(ctx, &c, step.mode))
		}
	}
	return runs, nil
}

func (s *Scheduler) run(ctx context.Context, c *domain.Campaign, mode domain.SendMode) CampaignRun {
	run := CampaignRun{CampaignID: c.ID, CampaignName: c.Name, Mode: mode}
	res, err := s.sender.Send(ctx, c.ID, sending.Options{Mode: mode, BatchSize: s.batchSize})
	run.Result = res
	if err != nil {
		run.Error = err.Error()
		logger.Warn("scheduled send failed", "campaign_id", c.ID, "mode", string(mode), "error", err)
		return run
	}
	logger.Info("scheduled send batch",
		"campaign_id", c.ID, "mode", string(mode),
		"sent", res.Sent, "failed", res.Failed, "remaining", res.Remaining)
	return run
}

// Start runs RunDue on the cron spec (standard five-field syntax or
// descriptors such as "@every 1m") until Stop.
func (s *Scheduler) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		runs, err := s.RunDue(ctx)
		switch {
		case errors.Is(err, ErrBusy):
			logger.Debug("scheduler sweep skipped, lock held elsewhere")
		case err != nil:
			logger.Error("scheduler sweep failed", "error", err)
		case len(runs) > 0:
			logger.Info("scheduler sweep complete", "campaigns", len(runs))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	logger.Info("scheduler started", "spec", spec)
	return nil
}

// Stop halts the cron loop and returns a context that is done once any
// running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}
