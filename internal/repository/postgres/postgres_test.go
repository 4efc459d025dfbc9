package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/service/campaign"
	"github.com/ignite/broadcast/internal/service/sending"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var campaignCols = []string{
	"id", "name", "subject", "html_content", "status",
	"scheduled_at", "sent_at", "pass_mode", "pass_started_at",
	"created_at", "updated_at", "groups",
}

func TestCampaignRepoGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepo(db)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM campaigns c WHERE c.id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"c1", "Spring", "Hi {{firstName}}", "<p>x</p>", "SENDING",
			nil, now, "resume", now, now, now, []byte("{g1,g2}"),
		))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSending, c.Status)
	assert.Equal(t, domain.ModeResume, c.PassMode)
	assert.Equal(t, []string{"g1", "g2"}, c.GroupIDs)
	assert.Nil(t, c.ScheduledAt)
	require.NotNil(t, c.SentAt)
	assert.True(t, c.SentAt.Equal(now))
}

func TestCampaignRepoGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM campaigns c WHERE c.id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := NewCampaignRepo(db).Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCampaignRepoUpdate(t *testing.T) {
	db, mock := newMock(t)
	name := "Renamed"
	groups := []string{"vip"}

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE campaigns SET name = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs("Renamed", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM campaign_groups WHERE campaign_id = $1")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("INSERT INTO campaign_groups")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewCampaignRepo(db).Update(context.Background(), "c1", campaign.UpdateFields{Name: &name, GroupIDs: &groups})
	require.NoError(t, err)
}

func TestCampaignRepoUpdateMissingRollsBack(t *testing.T) {
	db, mock := newMock(t)
	subject := "s"

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE campaigns SET subject = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewCampaignRepo(db).Update(context.Background(), "ghost", campaign.UpdateFields{Subject: &subject})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCampaignRepoListFilters(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(q("SELECT COUNT(*) FROM campaigns c WHERE TRUE AND c.status = $1 AND c.name ILIKE $2")).
		WithArgs("DRAFT", "%news%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now()
	mock.ExpectQuery(q("ORDER BY c.created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("DRAFT", "%news%", 50, 0).
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"c1", "newsletter", "", "", "DRAFT", nil, nil, "", nil, now, now, []byte("{}"),
		))

	out, total, err := NewCampaignRepo(db).List(context.Background(), campaign.ListFilter{Status: "DRAFT", Search: "news"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].GroupIDs)
}

func TestCampaignRepoDeleteNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("DELETE FROM campaigns WHERE id = $1")).
		WithArgs("c9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewCampaignRepo(db).Delete(context.Background(), "c9")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSendRepoContactsWithHistory(t *testing.T) {
	db, mock := newMock(t)
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("SELECT DISTINCT contact_id FROM email_sends WHERE campaign_id = $1 AND status = ANY($2) AND created_at >= $3")).
		WithArgs("c1", sqlmock.AnyArg(), since).
		WillReturnRows(sqlmock.NewRows([]string{"contact_id"}).AddRow("a").AddRow("b"))

	got, err := NewSendRepo(db).ContactsWithHistory(context.Background(), "c1",
		sending.HistoryQuery{SuccessfulOnly: true, Since: &since})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
}

func TestSendRepoContactsWithHistoryBefore(t *testing.T) {
	db, mock := newMock(t)
	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("WHERE campaign_id = $1 AND created_at < $2")).
		WithArgs("c1", before).
		WillReturnRows(sqlmock.NewRows([]string{"contact_id"}))

	got, err := NewSendRepo(db).ContactsWithHistory(context.Background(), "c1", sending.HistoryQuery{Before: &before})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSendRepoStartPass(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now()

	mock.ExpectExec(q("SET status = 'SENDING', pass_mode = $2, pass_started_at = $3, updated_at = NOW()")).
		WithArgs("c1", "resend_all", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSendRepo(db).StartPass(context.Background(), "c1", domain.ModeResendAll, at))
}

func TestSendRepoCompleteSendRecord(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE email_sends SET status = 'SENT', message_id = $2, sent_at = $3")).
		WithArgs("s1", "ses-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"contact_id", "campaign_id"}).AddRow("ct1", "c1"))
	mock.ExpectExec(q("UPDATE campaigns SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL")).
		WithArgs("c1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO email_events")).
		WithArgs(sqlmock.AnyArg(), "s1", "ct1", "SENT", "", nil, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewSendRepo(db).CompleteSendRecord(context.Background(), "s1", "ses-1", at))
}

func TestSendRepoListSubscribedContacts(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(q("WHERE c.status = 'SUBSCRIBED'")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(contactRows().AddRow("ct1", "ana@example.com", "Ana", "", "SUBSCRIBED", "VALID",
			[]byte(`{"company":"Acme"}`), nil, nil, nil, nil, now, []byte("{g1}")))

	out, err := NewSendRepo(db).ListSubscribedContacts(context.Background(), []string{"g1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Acme", out[0].Fields["company"])
	assert.Equal(t, domain.ValidationValid, out[0].ValidationStatus)
	assert.Equal(t, []string{"g1"}, out[0].GroupIDs)
}

func TestFeedbackRepoRecordEvent(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM email_sends WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id", "status", "opened_at", "clicked_at"}).
			AddRow("ct1", "DELIVERED", nil, nil))
	mock.ExpectExec(q("UPDATE email_sends SET status = $2, opened_at = $3, clicked_at = $4 WHERE id = $1")).
		WithArgs("s1", "OPENED", at, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO email_events")).
		WithArgs(sqlmock.AnyArg(), "s1", "ct1", "OPENED", "", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev := &domain.Event{SendID: "s1", Type: domain.EventOpened, CreatedAt: at, Metadata: map[string]any{"device": "mobile"}}
	require.NoError(t, NewFeedbackRepo(db).RecordEvent(context.Background(), ev))
	assert.Equal(t, "ct1", ev.ContactID)
	assert.NotEmpty(t, ev.ID)
}

func TestFeedbackRepoRecordEventUnknownSend(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("gone").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := NewFeedbackRepo(db).RecordEvent(context.Background(), &domain.Event{SendID: "gone", Type: domain.EventClicked})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFeedbackRepoSetContactStatus(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now()

	mock.ExpectExec(q("UPDATE contacts")).
		WithArgs("ct1", "UNSUBSCRIBED", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE contacts")).
		WithArgs("ghost", "BOUNCED", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewFeedbackRepo(db)
	require.NoError(t, repo.SetContactStatus(context.Background(), "ct1", domain.ContactUnsubscribed, at))
	err := repo.SetContactStatus(context.Background(), "ghost", domain.ContactBounced, at)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFeedbackRepoFindSendByMessageID(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(q("WHERE s.message_id = $1 LIMIT 1")).
		WithArgs("ses-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "contact_id", "status", "message_id", "error",
			"sent_at", "opened_at", "clicked_at", "created_at",
		}).AddRow("s1", "c1", "ct1", "SENT", "ses-1", "", now, nil, nil, now))

	rec, err := NewFeedbackRepo(db).FindSendByMessageID(context.Background(), "ses-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SendSent, rec.Status)
	assert.Equal(t, "ct1", rec.ContactID)
}
