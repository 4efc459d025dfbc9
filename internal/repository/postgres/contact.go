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
	"github.com/ignite/broadcast/internal/service/contact"
)

const contactColumns = `
		c.id, c.email, c.first_name, c.last_name, c.status, c.validation_status,
		c.custom_fields, c.validated_at, c.validation_score, c.validation_metadata,
		c.unsubscribed_at, c.created_at,
		ARRAY(SELECT g.group_id FROM contact_groups g WHERE g.contact_id = c.id ORDER BY g.group_id)`

func scanContact(row rowScanner) (*domain.Contact, error) {
	c := &domain.Contact{}
	var fields, meta []byte
	var groups []string
	err := row.Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Status, &c.ValidationStatus,
		&fields, &c.ValidatedAt, &c.ValidationScore, &meta,
		&c.UnsubscribedAt, &c.CreatedAt, pq.Array(&groups),
	)
	if err != nil {
		return nil, err
	}
	c.GroupIDs = groups
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return nil, fmt.Errorf("contact %s custom fields: %w", c.ID, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.ValidationMetadata); err != nil {
			return nil, fmt.Errorf("contact %s validation metadata: %w", c.ID, err)
		}
	}
	return c, nil
}

// classify maps constraint violations onto the domain errors services
// understand.
func classify(what string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", what, domain.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", what, domain.ErrUnknownReference)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// jsonColumn encodes v for a JSONB column; nil stays NULL.
func jsonColumn(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ContactRepo implements contact.Repository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("contact", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *ContactRepo) GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts c WHERE lower(c.email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("contact", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by email: %w", err)
	}
	return c, nil
}

func (r *ContactRepo) ListContacts(ctx context.Context, f contact.ListFilter) ([]domain.Contact, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"TRUE"}
	args := []any{}
	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if f.Status != "" {
		add("c.status = $?", f.Status)
	}
	if f.GroupID != "" {
		add("EXISTS (SELECT 1 FROM contact_groups cg WHERE cg.contact_id = c.id AND cg.group_id = $?)", f.GroupID)
	}
	if f.Search != "" {
		add("(c.email ILIKE $? OR c.first_name ILIKE $? OR c.last_name ILIKE $?)", "%"+f.Search+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts c WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM contacts c WHERE %s ORDER BY c.created_at DESC, c.id LIMIT $%d OFFSET $%d`,
		contactColumns, cond, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *ContactRepo) CreateContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	fields, err := jsonColumn(c.Fields)
	if err != nil {
		return fmt.Errorf("encode custom fields: %w", err)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (id, email, first_name, last_name, status, validation_status,
			                      custom_fields, unsubscribed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, c.Email, c.FirstName, c.LastName, c.Status, c.ValidationStatus,
			fields, c.UnsubscribedAt, c.CreatedAt)
		if err != nil {
			return classify("create contact", err)
		}
		return setContactGroups(ctx, tx, c.ID, c.GroupIDs)
	})
}

func setContactGroups(ctx context.Context, tx *sql.Tx, contactID string, groupIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_groups WHERE contact_id = $1`, contactID); err != nil {
		return fmt.Errorf("clear contact groups: %w", err)
	}
	if len(groupIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO contact_groups (contact_id, group_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, contactID, pq.Array(groupIDs))
	if err != nil {
		return classify("set contact groups", err)
	}
	return nil
}

func (r *ContactRepo) UpdateContact(ctx context.Context, id string, u contact.UpdateFields) error {
	sets := []string{}
	args := []any{}
	add := func(expr string, val any) {
		args = append(args, val)
		sets = append(sets, strings.ReplaceAll(expr, "$?", fmt.Sprintf("$%d", len(args))))
	}

	if u.Email != nil {
		add("email = $?", *u.Email)
	}
	if u.FirstName != nil {
		add("first_name = $?", *u.FirstName)
	}
	if u.LastName != nil {
		add("last_name = $?", *u.LastName)
	}
	if u.Status != nil {
		add("status = $?, unsubscribed_at = CASE WHEN $?::text = 'UNSUBSCRIBED' THEN COALESCE(unsubscribed_at, NOW()) ELSE NULL END", string(*u.Status))
	}
	if u.Fields != nil {
		b, err := jsonColumn(*u.Fields)
		if err != nil {
			return fmt.Errorf("encode custom fields: %w", err)
		}
		add("custom_fields = $?", b)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if len(sets) > 0 {
			q := fmt.Sprintf("UPDATE contacts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)+1)
			res, err := tx.ExecContext(ctx, q, append(args, id)...)
			if err != nil {
				return classify("update contact", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return notFound("contact", id)
			}
		} else {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("update contact: %w", err)
			}
			if !exists {
				return notFound("contact", id)
			}
		}
		if u.GroupIDs != nil {
			return setContactGroups(ctx, tx, id, *u.GroupIDs)
		}
		return nil
	})
}

// DeleteContact removes the contact. Memberships, sends and events cascade.
func (r *ContactRepo) DeleteContact(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("contact", id)
	}
	return nil
}

func (r *ContactRepo) AddContactToGroup(ctx context.Context, contactID, groupID string) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_groups (contact_id, group_id)
		SELECT id, $2 FROM contacts WHERE id = $1
		ON CONFLICT DO NOTHING
	`, contactID, groupID)
	if err != nil {
		return classify("add contact to group", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Nothing inserted: either already a member or no such contact.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, contactID).Scan(&exists); err != nil {
		return fmt.Errorf("add contact to group: %w", err)
	}
	if !exists {
		return notFound("contact", contactID)
	}
	return nil
}

func (r *ContactRepo) RemoveContactsFromGroup(ctx context.Context, contactIDs []string, groupID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM contact_groups WHERE contact_id = ANY($1::text[]) AND group_id = $2`,
		pq.Array(contactIDs), groupID)
	if err != nil {
		return 0, fmt.Errorf("remove contacts from group: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ContactRepo) SetContactValidation(ctx context.Context, id string, v contact.Validation) error {
	meta, err := jsonColumn(v.Metadata)
	if err != nil {
		return fmt.Errorf("encode validation metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET validation_status = $2, validated_at = $3, validation_score = $4, validation_metadata = $5
		WHERE id = $1
	`, id, v.Status, v.ValidatedAt, v.Score, meta)
	if err != nil {
		return fmt.Errorf("set contact validation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("contact", id)
	}
	return nil
}
