package sending_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast/internal/content"
	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/distlock"
	"github.com/ignite/broadcast/internal/repository/memory"
	"github.com/ignite/broadcast/internal/service/sending"
)

type sentMessage struct {
	to, subject, html string
}

type fakeSender struct {
	mu     sync.Mutex
	fail   map[string]error
	sent   []sentMessage
	nextID int
}

func (f *fakeSender) Send(_ context.Context, to, subject, html string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to]; err != nil {
		return "", &sending.TransportError{Provider: "fake", Err: err}
	}
	f.sent = append(f.sent, sentMessage{to, subject, html})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeSender) count(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.to == to {
			n++
		}
	}
	return n
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.calls++
	return ctx.Err()
}

// steppingClock returns a strictly increasing time on every call.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type harness struct {
	store   *memory.Store
	sender  *fakeSender
	limiter *countingLimiter
	orch    *sending.Orchestrator
	seq     int
}

func newHarness(t *testing.T, opts ...sending.Option) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		sender:  &fakeSender{fail: map[string]error{}},
		limiter: &countingLimiter{},
	}
	clock := &steppingClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]sending.Option{sending.WithClock(clock.Now)}, opts...)
	h.orch = sending.NewOrchestrator(h.store, h.sender, h.limiter,
		content.NewProcessor("https://mail.example.com"), content.Tokens{Secret: "k"}, opts...)
	return h
}

func (h *harness) campaign(t *testing.T, status domain.CampaignStatus, groups ...string) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		Name:        "Launch",
		Subject:     "Hi {{firstName}}",
		HTMLContent: `<html><body><p>Hello {{fullName}}</p><a href="https://shop.example.com">Shop</a></body></html>`,
		GroupIDs:    groups,
		Status:      status,
	}
	require.NoError(t, h.store.Create(context.Background(), c))
	return c
}

func (h *harness) contacts(n int, v domain.ValidationStatus, groups ...string) []*domain.Contact {
	out := make([]*domain.Contact, 0, n)
	for i := 0; i < n; i++ {
		h.seq++
		out = append(out, h.store.AddContact(domain.Contact{
			Email:            fmt.Sprintf("user%d@example.com", h.seq),
			FirstName:        fmt.Sprintf("User%d", h.seq),
			ValidationStatus: v,
			GroupIDs:         groups,
		}))
	}
	return out
}

func (h *harness) status(t *testing.T, id string) domain.CampaignStatus {
	t.Helper()
	c, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func assertAccounting(t *testing.T, r *sending.Result) {
	t.Helper()
	assert.Equal(t, r.Total, r.Sent+r.Failed+r.SkippedInvalid+r.Remaining, "accounting: %+v", r)
}

func TestBatchBoundary(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	h.contacts(25, domain.ValidationValid)
	ctx := context.Background()

	r, err := h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeFresh, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, r.Sent)
	assert.Equal(t, 15, r.Remaining)
	assert.Equal(t, 25, r.Total)
	assertAccounting(t, r)
	assert.Equal(t, domain.CampaignSending, h.status(t, c.ID))

	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, r.Sent)
	assert.Equal(t, 5, r.Remaining)
	assertAccounting(t, r)
	assert.Equal(t, domain.CampaignSending, h.status(t, c.ID))

	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, r.Sent)
	assert.Equal(t, 0, r.Remaining)
	assertAccounting(t, r)
	assert.Equal(t, domain.CampaignSent, h.status(t, c.ID))

	assert.Len(t, h.sender.sent, 25)
	assert.Equal(t, 25, h.limiter.calls)
}

func TestResumeNeverRepeatsSuccessfulSend(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	cs := h.contacts(6, domain.ValidationValid)
	ctx := context.Background()

	h.sender.fail[cs[1].Email] = errors.New("throttled")
	r, err := h.orch.Send(ctx, c.ID, sending.Options{BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Sent)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 2, r.Remaining)
	assertAccounting(t, r)

	// The failed contact is retried, the successful ones are not.
	delete(h.sender.fail, cs[1].Email)
	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Sent)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, domain.CampaignSent, h.status(t, c.ID))

	for _, ct := range cs {
		assert.Equal(t, 1, h.sender.count(ct.Email), ct.Email)
	}

	// A completed campaign cannot be resumed into a second delivery.
	_, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume})
	assert.ErrorIs(t, err, sending.ErrInvalidState)
	assert.Len(t, h.sender.sent, 6)
}

func TestResumeRetriesPendingRecords(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignSending)
	cs := h.contacts(3, domain.ValidationValid)
	ctx := context.Background()

	// A crash between record creation and delivery leaves PENDING behind.
	h.store.AddSendRecord(domain.SendRecord{CampaignID: c.ID, ContactID: cs[0].ID, Status: domain.SendSent})
	h.store.AddSendRecord(domain.SendRecord{CampaignID: c.ID, ContactID: cs[1].ID, Status: domain.SendPending})

	r, err := h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 2, r.Sent)
	assert.Zero(t, h.sender.count(cs[0].Email))
	assert.Equal(t, domain.CampaignSent, h.status(t, c.ID))
}

func TestAccountingWithInvalidAndFailures(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	valid := h.contacts(4, domain.ValidationValid)
	h.contacts(2, domain.ValidationInvalid)
	h.contacts(1, domain.ValidationCatchAll)
	h.store.AddContact(domain.Contact{Email: "gone@example.com", Status: domain.ContactUnsubscribed})
	h.sender.fail[valid[2].Email] = errors.New("rejected")

	r, err := h.orch.Send(context.Background(), c.ID, sending.Options{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, r.Total, "unsubscribed contacts are not candidates")
	assert.Equal(t, 2, r.SkippedInvalid)
	assert.Equal(t, 2, r.Sent)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 2, r.Remaining)
	assertAccounting(t, r)

	require.Len(t, r.Errors, 1)
	assert.True(t, strings.HasPrefix(r.Errors[0], "Failed to send to "+valid[2].Email+": "), r.Errors[0])
}

func TestAllInvalidNeverSends(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	h.contacts(3, domain.ValidationInvalid)

	r, err := h.orch.Send(context.Background(), c.ID, sending.Options{})
	require.NoError(t, err)
	assert.Zero(t, r.Sent)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, r.Total, r.SkippedInvalid)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.store.SendRecords(c.ID))
	assert.Equal(t, domain.CampaignDraft, h.status(t, c.ID))
}

func TestAllFailuresRevertToDraft(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignScheduled)
	cs := h.contacts(2, domain.ValidationValid)
	for _, ct := range cs {
		h.sender.fail[ct.Email] = errors.New("auth failure")
	}

	r, err := h.orch.Send(context.Background(), c.ID, sending.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Failed)
	assert.Len(t, r.Errors, 2)
	assert.Equal(t, domain.CampaignDraft, h.status(t, c.ID))

	for _, rec := range h.store.SendRecords(c.ID) {
		assert.Equal(t, domain.SendFailed, rec.Status)
		assert.Contains(t, rec.Error, "auth failure")
	}
}

func TestRecordsAndEventsWritten(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	ct := h.store.AddContact(domain.Contact{Email: "ana@example.com", FirstName: "Ana", ValidationStatus: domain.ValidationValid})

	_, err := h.orch.Send(context.Background(), c.ID, sending.Options{})
	require.NoError(t, err)

	recs := h.store.SendRecords(c.ID)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, domain.SendSent, rec.Status)
	assert.Equal(t, "msg-1", rec.MessageID)
	assert.Equal(t, ct.ID, rec.ContactID)
	require.NotNil(t, rec.SentAt)

	events := h.store.Events(rec.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSent, events[0].Type)

	require.Len(t, h.sender.sent, 1)
	msg := h.sender.sent[0]
	assert.Equal(t, "Hi Ana", msg.subject)
	assert.Contains(t, msg.html, "Hello Ana")
	assert.Contains(t, msg.html, "/api/track/open/"+rec.ID)
	assert.Contains(t, msg.html, "/api/track/click/"+rec.ID+"?url=")
	assert.Contains(t, msg.html, "/unsubscribe/"+content.Tokens{Secret: "k"}.Generate(ct.ID))
}

func TestGroupTargeting(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft, "vip")
	h.contacts(2, domain.ValidationValid, "vip")
	h.contacts(3, domain.ValidationValid, "other")

	r, err := h.orch.Send(context.Background(), c.ID, sending.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 2, r.Sent)
}

// failingStore injects a persistence error on the nth record creation.
type failingStore struct {
	*memory.Store
	failAt int
	calls  int
}

func (s *failingStore) CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	s.calls++
	if s.calls == s.failAt {
		return errors.New("connection reset")
	}
	return s.Store.CreateSendRecord(ctx, rec)
}

func TestPersistenceFailure(t *testing.T) {
	tests := []struct {
		name       string
		failAt     int
		wantSent   int
		wantStatus domain.CampaignStatus
	}{
		{name: "before any success reverts to draft", failAt: 1, wantSent: 0, wantStatus: domain.CampaignDraft},
		{name: "after progress stays sending", failAt: 3, wantSent: 2, wantStatus: domain.CampaignSending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New()
			store := &failingStore{Store: mem, failAt: tt.failAt}
			sender := &fakeSender{fail: map[string]error{}}
			orch := sending.NewOrchestrator(store, sender, &countingLimiter{},
				content.NewProcessor("https://x"), content.Tokens{Secret: "k"})

			c := &domain.Campaign{Name: "n", Subject: "s", HTMLContent: "<p>x</p>", Status: domain.CampaignDraft}
			require.NoError(t, mem.Create(context.Background(), c))
			for i := 0; i < 5; i++ {
				mem.AddContact(domain.Contact{Email: fmt.Sprintf("p%d@example.com", i)})
			}

			r, err := orch.Send(context.Background(), c.ID, sending.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, sending.ErrPersistence)
			assert.Contains(t, err.Error(), "connection reset")
			require.NotNil(t, r)
			assert.Equal(t, tt.wantSent, r.Sent)

			got, _ := mem.Get(context.Background(), c.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestCancelledContextLeavesRecordsForResume(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	h.contacts(2, domain.ValidationValid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Send(ctx, c.ID, sending.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sending.ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.CampaignDraft, h.status(t, c.ID))
	assert.Empty(t, h.sender.sent)
}

// contextStore fails writes whose context is already done, the way a real
// database driver does.
type contextStore struct {
	*memory.Store
}

func (s *contextStore) CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CreateSendRecord(ctx, rec)
}

func (s *contextStore) CompleteSendRecord(ctx context.Context, id, messageID string, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CompleteSendRecord(ctx, id, messageID, sentAt)
}

func (s *contextStore) FailSendRecord(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.FailSendRecord(ctx, id, reason)
}

// cancellingSender accepts the message and then cancels the caller's
// context, as a request deadline expiring mid-call would.
type cancellingSender struct {
	fakeSender
	cancel context.CancelFunc
	reject bool
}

func (s *cancellingSender) Send(ctx context.Context, to, subject, html string) (string, error) {
	defer s.cancel()
	if s.reject {
		s.fakeSender.mu.Lock()
		s.fakeSender.sent = append(s.fakeSender.sent, sentMessage{to, subject, html})
		s.fakeSender.mu.Unlock()
		return "", &sending.TransportError{Provider: "fake", Err: errors.New("mailbox full")}
	}
	return s.fakeSender.Send(ctx, to, subject, html)
}

func TestAcceptedSendRecordedAfterCancel(t *testing.T) {
	mem := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	sender := &cancellingSender{fakeSender: fakeSender{fail: map[string]error{}}, cancel: cancel}
	orch := sending.NewOrchestrator(&contextStore{mem}, sender, &countingLimiter{},
		content.NewProcessor("https://x"), content.Tokens{Secret: "k"})

	c := &domain.Campaign{Name: "n", Subject: "s", HTMLContent: "<p>x</p>", Status: domain.CampaignDraft}
	require.NoError(t, mem.Create(context.Background(), c))
	first := mem.AddContact(domain.Contact{Email: "first@example.com"})
	second := mem.AddContact(domain.Contact{Email: "second@example.com"})

	r, err := orch.Send(ctx, c.ID, sending.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.Sent)

	recs := mem.SendRecords(c.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SendSent, recs[0].Status)
	assert.Equal(t, "msg-1", recs[0].MessageID)

	got, _ := mem.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignSending, got.Status)

	sender.cancel = func() {}
	r, err = orch.Send(context.Background(), c.ID, sending.Options{Mode: domain.ModeResume})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Sent)
	assert.Equal(t, 1, sender.count(first.Email), "accepted message delivered once")
	assert.Equal(t, 1, sender.count(second.Email))
}

func TestRejectedSendRecordedAfterCancel(t *testing.T) {
	mem := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	sender := &cancellingSender{fakeSender: fakeSender{fail: map[string]error{}}, cancel: cancel, reject: true}
	orch := sending.NewOrchestrator(&contextStore{mem}, sender, &countingLimiter{},
		content.NewProcessor("https://x"), content.Tokens{Secret: "k"})

	c := &domain.Campaign{Name: "n", Subject: "s", HTMLContent: "<p>x</p>", Status: domain.CampaignDraft}
	require.NoError(t, mem.Create(context.Background(), c))
	mem.AddContact(domain.Contact{Email: "only@example.com"})

	// The provider failure races the cancellation; the record stays PENDING
	// so a resume retries it rather than losing it.
	_, err := orch.Send(ctx, c.ID, sending.Options{})
	require.Error(t, err)
	recs := mem.SendRecords(c.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SendPending, recs[0].Status)
}

func TestCampaignSentAtFollowsFirstDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("all invalid pass leaves sent_at unset", func(t *testing.T) {
		h := newHarness(t)
		c := h.campaign(t, domain.CampaignDraft)
		h.contacts(2, domain.ValidationInvalid)

		_, err := h.orch.Send(ctx, c.ID, sending.Options{})
		require.NoError(t, err)
		got, _ := h.store.Get(ctx, c.ID)
		assert.Equal(t, domain.CampaignDraft, got.Status)
		assert.Nil(t, got.SentAt)
	})

	t.Run("all failed pass leaves sent_at unset", func(t *testing.T) {
		h := newHarness(t)
		c := h.campaign(t, domain.CampaignDraft)
		cs := h.contacts(1, domain.ValidationValid)
		h.sender.fail[cs[0].Email] = errors.New("blocked")

		_, err := h.orch.Send(ctx, c.ID, sending.Options{})
		require.NoError(t, err)
		got, _ := h.store.Get(ctx, c.ID)
		assert.Equal(t, domain.CampaignDraft, got.Status)
		assert.Nil(t, got.SentAt)
	})

	t.Run("first delivery stamps sent_at and resend keeps it", func(t *testing.T) {
		h := newHarness(t)
		c := h.campaign(t, domain.CampaignDraft)
		h.contacts(2, domain.ValidationValid)

		_, err := h.orch.Send(ctx, c.ID, sending.Options{})
		require.NoError(t, err)
		recs := h.store.SendRecords(c.ID)
		require.Len(t, recs, 2)
		got, _ := h.store.Get(ctx, c.ID)
		require.NotNil(t, got.SentAt)
		assert.Equal(t, *recs[0].SentAt, *got.SentAt)

		_, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendAll})
		require.NoError(t, err)
		again, _ := h.store.Get(ctx, c.ID)
		assert.Equal(t, *got.SentAt, *again.SentAt)
	})
}

func TestResendNew(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	cs := h.contacts(3, domain.ValidationValid)
	ctx := context.Background()

	h.sender.fail[cs[1].Email] = errors.New("bounce")
	_, err := h.orch.Send(ctx, c.ID, sending.Options{})
	require.NoError(t, err)
	require.Equal(t, domain.CampaignSent, h.status(t, c.ID))
	first, _ := h.store.Get(ctx, c.ID)
	delete(h.sender.fail, cs[1].Email)

	late := h.store.AddContact(domain.Contact{Email: "late@example.com", ValidationStatus: domain.ValidationValid})

	// Any prior record, failed included, excludes a contact.
	r, err := h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendNew})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, 1, r.Sent)
	assert.Equal(t, 1, h.sender.count(late.Email))
	assert.Zero(t, h.sender.count(cs[1].Email))

	after, _ := h.store.Get(ctx, c.ID)
	assert.Equal(t, domain.CampaignSent, after.Status)
	assert.Equal(t, first.SentAt, after.SentAt, "resend keeps the original sent_at")
	assert.Equal(t, domain.ModeResendNew, after.PassMode)
}

func TestResendNewContinuation(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	h.contacts(2, domain.ValidationValid)
	ctx := context.Background()

	_, err := h.orch.Send(ctx, c.ID, sending.Options{})
	require.NoError(t, err)

	fresh := h.contacts(5, domain.ValidationValid)
	r, err := h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendNew, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, r.Total)
	assert.Equal(t, 3, r.Remaining)

	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResume, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Total)

	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendNew, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Total)
	assert.Zero(t, r.Remaining)
	assert.Equal(t, domain.CampaignSent, h.status(t, c.ID))

	for _, ct := range fresh {
		assert.Equal(t, 1, h.sender.count(ct.Email))
	}
	assert.Len(t, h.sender.sent, 7)
}

func TestResendAll(t *testing.T) {
	h := newHarness(t)
	c := h.campaign(t, domain.CampaignDraft)
	cs := h.contacts(3, domain.ValidationValid)
	ctx := context.Background()

	_, err := h.orch.Send(ctx, c.ID, sending.Options{})
	require.NoError(t, err)

	r, err := h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendAll, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 2, r.Sent)
	assert.Equal(t, domain.CampaignSending, h.status(t, c.ID))

	// Continuing the resend skips only what this pass already delivered.
	r, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: domain.ModeResendAll, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, 1, r.Sent)
	assert.Equal(t, domain.CampaignSent, h.status(t, c.ID))

	for _, ct := range cs {
		assert.Equal(t, 2, h.sender.count(ct.Email))
	}
}

func TestModeStatusCompatibility(t *testing.T) {
	tests := []struct {
		status domain.CampaignStatus
		pass   domain.SendMode
		mode   domain.SendMode
		ok     bool
	}{
		{domain.CampaignDraft, "", domain.ModeFresh, true},
		{domain.CampaignScheduled, "", domain.ModeFresh, true},
		{domain.CampaignDraft, "", domain.ModeResume, true},
		{domain.CampaignDraft, "", domain.ModeResendNew, false},
		{domain.CampaignSending, domain.ModeFresh, domain.ModeFresh, false},
		{domain.CampaignSending, domain.ModeFresh, domain.ModeResume, true},
		{domain.CampaignSending, domain.ModeResendAll, domain.ModeResendAll, true},
		{domain.CampaignSending, domain.ModeResendAll, domain.ModeResendNew, false},
		{domain.CampaignSent, domain.ModeFresh, domain.ModeFresh, false},
		{domain.CampaignSent, domain.ModeFresh, domain.ModeResume, false},
		{domain.CampaignSent, domain.ModeFresh, domain.ModeResendAll, true},
		{domain.CampaignCancelled, "", domain.ModeFresh, false},
		{domain.CampaignCancelled, "", domain.ModeResume, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.status, tt.mode), func(t *testing.T) {
			h := newHarness(t)
			c := h.campaign(t, tt.status)
			if tt.pass != "" {
				started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
				require.NoError(t, h.store.StartPass(context.Background(), c.ID, tt.pass, started))
				require.NoError(t, h.store.SetCampaignStatus(context.Background(), c.ID, tt.status))
			}
			h.contacts(1, domain.ValidationValid)

			_, err := h.orch.Send(context.Background(), c.ID, sending.Options{Mode: tt.mode})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, sending.ErrInvalidState)
				assert.Empty(t, h.sender.sent)
				assert.Equal(t, tt.status, h.status(t, c.ID), "rejected call must not mutate state")
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Send(ctx, "missing", sending.Options{})
	assert.ErrorIs(t, err, sending.ErrNotFound)

	_, err = h.orch.Send(ctx, "", sending.Options{})
	assert.ErrorIs(t, err, sending.ErrInvalidState)

	empty := &domain.Campaign{Name: "e", Subject: "s", HTMLContent: "   ", Status: domain.CampaignDraft}
	require.NoError(t, h.store.Create(ctx, empty))
	_, err = h.orch.Send(ctx, empty.ID, sending.Options{})
	assert.ErrorIs(t, err, sending.ErrNoContent)
	assert.ErrorIs(t, err, sending.ErrInvalidState)

	c := h.campaign(t, domain.CampaignDraft)
	_, err = h.orch.Send(ctx, c.ID, sending.Options{Mode: "sideways"})
	assert.ErrorIs(t, err, sending.ErrInvalidState)
}

func TestConcurrentSendIsBusy(t *testing.T) {
	locks := distlock.NewLocalLocks()
	h := newHarness(t, sending.WithLocks(locks.Lock))
	c := h.campaign(t, domain.CampaignDraft)
	h.contacts(1, domain.ValidationValid)

	held := locks.Lock("campaign-send:" + c.ID)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.Send(context.Background(), c.ID, sending.Options{})
	assert.ErrorIs(t, err, sending.ErrBusy)

	require.NoError(t, held.Release(context.Background()))
	r, err := h.orch.Send(context.Background(), c.ID, sending.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Sent)
}
