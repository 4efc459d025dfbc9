package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/service/sending"
)

const sendColumns = `
		s.id, s.campaign_id, s.contact_id, s.status,
		COALESCE(s.message_id, ''), COALESCE(s.error, ''),
		s.sent_at, s.opened_at, s.clicked_at, s.created_at`

func scanSend(row rowScanner) (*domain.SendRecord, error) {
	r := &domain.SendRecord{}
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.ContactID, &r.Status,
		&r.MessageID, &r.Error,
		&r.SentAt, &r.OpenedAt, &r.ClickedAt, &r.CreatedAt,
	)
	return r, err
}

func successfulStatuses() []string {
	out := make([]string, len(domain.SuccessfulSendStatuses))
	for i, s := range domain.SuccessfulSendStatuses {
		out[i] = string(s)
	}
	return out
}

// SendRepo implements sending.Store against PostgreSQL.
type SendRepo struct{ db *sql.DB }

// NewSendRepo creates a Postgres-backed send pipeline store.
func NewSendRepo(db *sql.DB) *SendRepo { return &SendRepo{db: db} }

func (r *SendRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	return getCampaign(ctx, r.db, id)
}

// ListSubscribedContacts returns SUBSCRIBED contacts in any of groupIDs (all
// contacts when empty) in a stable order.
func (r *SendRepo) ListSubscribedContacts(ctx context.Context, groupIDs []string) ([]domain.Contact, error) {
	if groupIDs == nil {
		groupIDs = []string{}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts c
		WHERE c.status = 'SUBSCRIBED'
		  AND (cardinality($1::text[]) = 0 OR EXISTS (
		      SELECT 1 FROM contact_groups cg
		      WHERE cg.contact_id = c.id AND cg.group_id = ANY($1::text[])
		  ))
		ORDER BY c.created_at, c.id
	`, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *SendRepo) ContactsWithHistory(ctx context.Context, campaignID string, q sending.HistoryQuery) (map[string]bool, error) {
	where := []string{"campaign_id = $1"}
	args := []any{campaignID}
	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.SuccessfulOnly {
		add("status = ANY($%d)", pq.Array(successfulStatuses()))
	}
	if q.Since != nil {
		add("created_at >= $%d", *q.Since)
	}
	if q.Before != nil {
		add("created_at < $%d", *q.Before)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT contact_id FROM email_sends WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("query send history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan send history: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *SendRepo) HasSuccessfulSend(ctx context.Context, campaignID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM email_sends WHERE campaign_id = $1 AND status = ANY($2))`,
		campaignID, pq.Array(successfulStatuses()),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check successful sends: %w", err)
	}
	return exists, nil
}

// StartPass moves the campaign to SENDING for a new pass. sent_at is left
// to the first completed send record.
func (r *SendRepo) StartPass(ctx context.Context, campaignID string, mode domain.SendMode, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'SENDING', pass_mode = $2, pass_started_at = $3, updated_at = NOW()
		WHERE id = $1
	`, campaignID, mode, startedAt)
	if err != nil {
		return fmt.Errorf("start pass: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("campaign", campaignID)
	}
	return nil
}

func (r *SendRepo) SetCampaignStatus(ctx context.Context, campaignID string, status domain.CampaignStatus) error {
	return updateStatus(ctx, r.db, campaignID, status)
}

func (r *SendRepo) CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_sends (id, campaign_id, contact_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.CampaignID, rec.ContactID, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create send record: %w", err)
	}
	return nil
}

// CompleteSendRecord marks the record SENT, stamps the campaign's sent_at
// if this is its first delivery, and logs the SENT event in one
// transaction.
func (r *SendRepo) CompleteSendRecord(ctx context.Context, id, messageID string, sentAt time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var contactID, campaignID string
		err := tx.QueryRowContext(ctx, `
			UPDATE email_sends SET status = 'SENT', message_id = $2, sent_at = $3
			WHERE id = $1
			RETURNING contact_id, campaign_id
		`, id, messageID, sentAt).Scan(&contactID, &campaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("send", id)
		}
		if err != nil {
			return fmt.Errorf("complete send record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`,
			campaignID, sentAt); err != nil {
			return fmt.Errorf("stamp campaign sent_at: %w", err)
		}
		return insertEvent(ctx, tx, &domain.Event{
			SendID: id, ContactID: contactID, Type: domain.EventSent, CreatedAt: sentAt,
		})
	})
}

func (r *SendRepo) FailSendRecord(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE email_sends SET status = 'FAILED', error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("fail send record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("send", id)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	var meta any
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO email_events (id, send_id, contact_id, type, url, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, ev.ID, ev.SendID, ev.ContactID, ev.Type, ev.URL, meta, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
