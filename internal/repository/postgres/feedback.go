package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/broadcast/internal/domain"
)

// FeedbackRepo implements suppression.Repository and the event sink used by
// tracking.
type FeedbackRepo struct{ db *sql.DB }

// NewFeedbackRepo creates a Postgres-backed feedback repository.
func NewFeedbackRepo(db *sql.DB) *FeedbackRepo { return &FeedbackRepo{db: db} }

func (r *FeedbackRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	return (&ContactRepo{db: r.db}).GetContact(ctx, id)
}

func (r *FeedbackRepo) SetContactStatus(ctx context.Context, id string, status domain.ContactStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = $2::text,
		    unsubscribed_at = CASE WHEN $2::text = 'UNSUBSCRIBED' THEN COALESCE(unsubscribed_at, $3) ELSE unsubscribed_at END
		WHERE id = $1
	`, id, status, at)
	if err != nil {
		return fmt.Errorf("set contact status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("contact", id)
	}
	return nil
}

func (r *FeedbackRepo) GetSend(ctx context.Context, id string) (*domain.SendRecord, error) {
	rec, err := scanSend(r.db.QueryRowContext(ctx,
		`SELECT `+sendColumns+` FROM email_sends s WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("send", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get send: %w", err)
	}
	return rec, nil
}

func (r *FeedbackRepo) FindSendByMessageID(ctx context.Context, messageID string) (*domain.SendRecord, error) {
	rec, err := scanSend(r.db.QueryRowContext(ctx,
		`SELECT `+sendColumns+` FROM email_sends s WHERE s.message_id = $1 LIMIT 1`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("find send by message id: %w", err)
	}
	return rec, nil
}

func (r *FeedbackRepo) ActiveSends(ctx context.Context, contactID string) ([]domain.SendRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sendColumns+`
		FROM email_sends s
		WHERE s.contact_id = $1 AND s.status IN ('PENDING', 'SENT', 'DELIVERED')
		ORDER BY s.created_at`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list active sends: %w", err)
	}
	defer rows.Close()

	var out []domain.SendRecord
	for rows.Next() {
		rec, err := scanSend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan send: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// RecordEvent appends ev and advances the send's status under a row lock so
// concurrent opens and clicks cannot regress each other.
func (r *FeedbackRepo) RecordEvent(ctx context.Context, ev *domain.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		rec := &domain.SendRecord{ID: ev.SendID}
		err := tx.QueryRowContext(ctx, `
			SELECT contact_id, status, opened_at, clicked_at
			FROM email_sends WHERE id = $1 FOR UPDATE
		`, ev.SendID).Scan(&rec.ContactID, &rec.Status, &rec.OpenedAt, &rec.ClickedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("send", ev.SendID)
		}
		if err != nil {
			return fmt.Errorf("lock send: %w", err)
		}

		ev.ContactID = rec.ContactID
		domain.ApplyEvent(rec, ev.Type, ev.CreatedAt)
		_, err = tx.ExecContext(ctx,
			`UPDATE email_sends SET status = $2, opened_at = $3, clicked_at = $4 WHERE id = $1`,
			ev.SendID, rec.Status, rec.OpenedAt, rec.ClickedAt)
		if err != nil {
			return fmt.Errorf("advance send status: %w", err)
		}
		return insertEvent(ctx, tx, ev)
	})
}
