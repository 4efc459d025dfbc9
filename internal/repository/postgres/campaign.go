// Package postgres implements the service repositories against PostgreSQL
// through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/service/campaign"
)

const campaignColumns = `
		c.id, c.name, c.subject, c.html_content, c.status,
		c.scheduled_at, c.sent_at, c.pass_mode, c.pass_started_at,
		c.created_at, c.updated_at,
		ARRAY(SELECT g.group_id FROM campaign_groups g WHERE g.campaign_id = c.id ORDER BY g.group_id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var groups []string
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.HTMLContent, &c.Status,
		&c.ScheduledAt, &c.SentAt, &c.PassMode, &c.PassStartedAt,
		&c.CreatedAt, &c.UpdatedAt, pq.Array(&groups),
	)
	if err != nil {
		return nil, err
	}
	c.GroupIDs = groups
	return c, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return getCampaign(ctx, r.db, id)
}

func getCampaign(ctx context.Context, db *sql.DB, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("campaign", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"TRUE"}
	args := []any{}
	idx := 1
	if f.Status != "" {
		where = append(where, fmt.Sprintf("c.status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("c.name ILIKE $%d", idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns c WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM campaigns c WHERE %s ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d`,
		campaignColumns, cond, idx, idx+1)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO campaigns (id, name, subject, html_content, status, scheduled_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING created_at, updated_at
		`, c.ID, c.Name, c.Subject, c.HTMLContent, c.Status, c.ScheduledAt).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}
		return setGroups(ctx, tx, c.ID, c.GroupIDs)
	})
}

func setGroups(ctx context.Context, tx *sql.Tx, campaignID string, groupIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_groups WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear campaign groups: %w", err)
	}
	if len(groupIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_groups (campaign_id, group_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, campaignID, pq.Array(groupIDs))
	if err != nil {
		return fmt.Errorf("set campaign groups: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []any{}
	idx := 1
	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.HTMLContent != nil {
		add("html_content", *u.HTMLContent)
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("campaign", id)
		}
		if u.GroupIDs != nil {
			return setGroups(ctx, tx, id, *u.GroupIDs)
		}
		return nil
	})
}

// Delete removes the campaign. Groups, sends and events cascade.
func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("campaign", id)
	}
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	return updateStatus(ctx, r.db, id, status)
}

func updateStatus(ctx context.Context, db *sql.DB, id string, status domain.CampaignStatus) error {
	res, err := db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("campaign", id)
	}
	return nil
}

func (r *CampaignRepo) SetSchedule(ctx context.Context, id string, status domain.CampaignStatus, at *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, scheduled_at = $2, updated_at = NOW() WHERE id = $3`,
		status, at, id)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("campaign", id)
	}
	return nil
}

// ListDue returns campaigns in status whose scheduled_at is not after now,
// oldest schedule first.
func (r *CampaignRepo) ListDue(ctx context.Context, status domain.CampaignStatus, now time.Time) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns c
		WHERE c.status = $1 AND c.scheduled_at IS NOT NULL AND c.scheduled_at <= $2
		ORDER BY c.scheduled_at`, status, now)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
