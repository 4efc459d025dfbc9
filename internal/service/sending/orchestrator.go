package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/metrics"
	"github.com/ignite/broadcast/internal/pkg/distlock"
	"github.com/ignite/broadcast/internal/pkg/logger"
)

// DefaultBatchSize caps the recipients handled by one Send call so a batch
// finishes inside a typical request timeout.
const DefaultBatchSize = 200

// Options selects how one Send call behaves.
type Options struct {
	Mode      domain.SendMode
	BatchSize int
}

// Result reports one batch. Sent + Failed + SkippedInvalid + Remaining
// always equals Total for a call that returns without error.
type Result struct {
	Sent           int      `json:"sent"`
	Failed         int      `json:"failed"`
	Remaining      int      `json:"remaining"`
	Total          int      `json:"total"`
	SkippedInvalid int      `json:"skippedInvalid"`
	Errors         []string `json:"errors"`
}

// Orchestrator drives send passes. It is safe for concurrent use; calls for
// the same campaign are serialized by the optional lock factory.
type Orchestrator struct {
	store    Store
	sender   Sender
	limiter  Limiter
	renderer Renderer
	tokens   TokenGenerator
	locks    distlock.Factory
	now      func() time.Time
	log      *logger.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLocks makes concurrent Send calls for one campaign fail with ErrBusy.
func WithLocks(f distlock.Factory) Option {
	return func(o *Orchestrator) { o.locks = f }
}

// WithClock replaces time.Now for pass and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger replaces the default logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator wires the pipeline collaborators.
func NewOrchestrator(store Store, sender Sender, limiter Limiter, renderer Renderer, tokens TokenGenerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		sender:   sender,
		limiter:  limiter,
		renderer: renderer,
		tokens:   tokens,
		now:      time.Now,
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pass is the resolved plan for one Send call.
type pass struct {
	mode         domain.SendMode
	startedAt    time.Time
	continuation bool
	history      []HistoryQuery
}

// Send delivers up to one batch of the campaign to the contacts still owed
// it. Per-recipient delivery failures are reported in the Result; any other
// error aborts the batch. Once the campaign has entered SENDING, abort
// errors wrap ErrPersistence and the campaign is returned to DRAFT unless
// some send for it has already succeeded.
func (o *Orchestrator) Send(ctx context.Context, campaignID string, opts Options) (*Result, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", ErrInvalidState)
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeFresh
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown send mode %q", ErrInvalidState, opts.Mode)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if o.locks != nil {
		lock := o.locks("campaign-send:" + campaignID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire send lock: %w", err)
		}
		if !ok {
			return nil, ErrBusy
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("send lock released late", "campaign_id", campaignID, "error", err)
			}
		}()
	}

	start := o.now()
	res, err := o.send(ctx, campaignID, opts)
	metrics.BatchDuration.Observe(o.now().Sub(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Batches.WithLabelValues(string(opts.Mode), outcome).Inc()
	return res, err
}

func (o *Orchestrator) send(ctx context.Context, campaignID string, opts Options) (*Result, error) {
	c, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if !c.HasContent() {
		return nil, ErrNoContent
	}

	p, err := o.plan(c, opts.Mode)
	if err != nil {
		return nil, err
	}

	contacts, err := o.store.ListSubscribedContacts(ctx, c.GroupIDs)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	excluded := make(map[string]bool)
	for _, q := range p.history {
		ids, err := o.store.ContactsWithHistory(ctx, c.ID, q)
		if err != nil {
			return nil, fmt.Errorf("load send history: %w", err)
		}
		for id := range ids {
			excluded[id] = true
		}
	}

	res := &Result{Errors: []string{}}
	sendable := make([]domain.Contact, 0, len(contacts))
	for _, ct := range contacts {
		if excluded[ct.ID] {
			continue
		}
		res.Total++
		if !ct.ValidationStatus.Sendable() {
			res.SkippedInvalid++
			continue
		}
		sendable = append(sendable, ct)
	}
	batch := sendable
	if len(batch) > opts.BatchSize {
		batch = batch[:opts.BatchSize]
	}
	res.Remaining = len(sendable) - len(batch)
	metrics.SkippedInvalid.Add(float64(res.SkippedInvalid))

	if !p.continuation {
		if err := o.store.StartPass(ctx, c.ID, p.mode, p.startedAt); err != nil {
			return nil, fmt.Errorf("start send pass: %w", err)
		}
	}

	log := o.log.With("campaign_id", c.ID, "mode", string(p.mode))
	log.Info("send batch started",
		"total", res.Total, "batch", len(batch), "remaining", res.Remaining,
		"skipped_invalid", res.SkippedInvalid, "continuation", p.continuation)

	for _, ct := range batch {
		if err := o.sendOne(ctx, c, ct, res); err != nil {
			log.Error("send batch aborted", "error", err, "sent", res.Sent, "failed", res.Failed)
			return res, o.abort(ctx, c.ID, res, err)
		}
	}

	if res.Remaining > 0 {
		log.Info("send batch finished", "sent", res.Sent, "failed", res.Failed, "remaining", res.Remaining)
		return res, nil
	}

	final := domain.CampaignDraft
	succeeded, err := o.succeeded(ctx, c.ID, res)
	if err != nil {
		return res, o.abort(ctx, c.ID, res, err)
	}
	if succeeded {
		final = domain.CampaignSent
	}
	if err := o.store.SetCampaignStatus(ctx, c.ID, final); err != nil {
		return res, o.abort(ctx, c.ID, res, fmt.Errorf("finalize campaign: %w", err))
	}
	log.Info("send pass complete", "sent", res.Sent, "failed", res.Failed, "status", string(final))
	return res, nil
}

// plan checks the requested mode against the campaign status and works out
// which history excludes a contact from this call.
func (o *Orchestrator) plan(c *domain.Campaign, mode domain.SendMode) (pass, error) {
	successful := HistoryQuery{SuccessfulOnly: true}

	switch c.Status {
	case domain.CampaignDraft, domain.CampaignScheduled:
		switch mode {
		case domain.ModeFresh:
			return pass{mode: mode, startedAt: o.now()}, nil
		case domain.ModeResume:
			return pass{mode: mode, startedAt: o.now(), history: []HistoryQuery{successful}}, nil
		}
		return pass{}, fmt.Errorf("%w: a %s campaign cannot be resent", ErrInvalidState, c.Status)

	case domain.CampaignSending:
		if mode == domain.ModeFresh {
			return pass{}, fmt.Errorf("%w: campaign is already sending, resume it instead", ErrInvalidState)
		}
		if mode.IsResend() && c.PassMode != mode {
			return pass{}, fmt.Errorf("%w: campaign is sending in %q mode", ErrInvalidState, c.PassMode)
		}
		p := pass{mode: c.PassMode, continuation: true}
		if c.PassStartedAt == nil {
			p.history = []HistoryQuery{successful}
			return p, nil
		}
		p.startedAt = *c.PassStartedAt
		switch c.PassMode {
		case domain.ModeResendNew:
			p.history = []HistoryQuery{{Before: c.PassStartedAt}, successful}
		case domain.ModeResendAll:
			p.history = []HistoryQuery{{SuccessfulOnly: true, Since: c.PassStartedAt}}
		default:
			p.history = []HistoryQuery{successful}
		}
		return p, nil

	case domain.CampaignSent:
		switch mode {
		case domain.ModeResendNew:
			return pass{mode: mode, startedAt: o.now(), history: []HistoryQuery{{}}}, nil
		case domain.ModeResendAll:
			return pass{mode: mode, startedAt: o.now()}, nil
		}
		return pass{}, fmt.Errorf("%w: campaign was already sent, use resend", ErrInvalidState)
	}
	return pass{}, fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
}

// sendOne runs the per-recipient protocol. A returned error is fatal to the
// batch; provider failures are recorded and swallowed.
func (o *Orchestrator) sendOne(ctx context.Context, c *domain.Campaign, ct domain.Contact, res *Result) error {
	rec := &domain.SendRecord{
		ID:         uuid.New().String(),
		CampaignID: c.ID,
		ContactID:  ct.ID,
		Status:     domain.SendPending,
		CreatedAt:  o.now(),
	}
	if err := o.store.CreateSendRecord(ctx, rec); err != nil {
		return fmt.Errorf("create send record: %w", err)
	}

	html := o.renderer.Render(c.HTMLContent, ct, rec.ID, o.tokens.Generate(ct.ID))
	subject := o.renderer.Merge(c.Subject, ct)

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	messageID, err := o.sender.Send(ctx, ct.Email, subject, html)
	// The provider has answered; its outcome is recorded even if the caller
	// has gone away, or a resume would deliver the message again.
	post := context.WithoutCancel(ctx)
	if err != nil {
		// A cancelled batch leaves the record PENDING for resume.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ferr := o.store.FailSendRecord(post, rec.ID, err.Error()); ferr != nil {
			return fmt.Errorf("record failed send: %w", ferr)
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("Failed to send to %s: %v", ct.Email, err))
		metrics.SendAttempts.WithLabelValues("failed").Inc()
		o.log.Warn("send failed", "campaign_id", c.ID, "send_id", rec.ID, "email", ct.Email, "error", err)
		return nil
	}

	res.Sent++
	metrics.SendAttempts.WithLabelValues("sent").Inc()
	if err := o.store.CompleteSendRecord(post, rec.ID, messageID, o.now()); err != nil {
		return fmt.Errorf("record completed send: %w", err)
	}
	return nil
}

func (o *Orchestrator) succeeded(ctx context.Context, campaignID string, res *Result) (bool, error) {
	if res.Sent > 0 {
		return true, nil
	}
	return o.store.HasSuccessfulSend(ctx, campaignID)
}

// abort handles an error escaping the batch after the campaign entered
// SENDING. The campaign goes back to DRAFT only when nothing was ever
// delivered; otherwise it stays SENDING for a resume or an operator.
func (o *Orchestrator) abort(ctx context.Context, campaignID string, res *Result, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	succeeded, err := o.succeeded(cleanup, campaignID, res)
	switch {
	case err != nil:
		o.log.Error("cannot tell whether campaign has deliveries; leaving it SENDING",
			"campaign_id", campaignID, "error", err)
	case !succeeded:
		if err := o.store.SetCampaignStatus(cleanup, campaignID, domain.CampaignDraft); err != nil {
			o.log.Error("revert campaign to DRAFT failed", "campaign_id", campaignID, "error", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, cause)
}
