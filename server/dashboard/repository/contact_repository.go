package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatdesk/server/dashboard/domain"
)

type ContactRepository struct {
	pool *pgxpool.Pool
}

func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

const contactColumns = `
	c.id::text, c.company_id::text, c.phone_number, COALESCE(c.name, ''),
	COALESCE(c.department_id::text, ''), COALESCE(c.sector_id::text, ''),
	COALESCE((SELECT array_agg(ct.tag_id::text ORDER BY ct.created_at) FROM contact_tags ct WHERE ct.contact_id = c.id), '{}'),
	COALESCE(c.ia_ativada, false), COALESCE(c.last_message, ''), COALESCE(c.last_message_time::text, ''),
	c.created_at, c.updated_at`

func scanContact(row pgx.Row) (domain.Contact, error) {
	var c domain.Contact
	err := row.Scan(&c.ID, &c.CompanyID, &c.PhoneNumber, &c.Name, &c.DepartmentID, &c.SectorID,
		&c.TagIDs, &c.IAAtivada, &c.LastMessage, &c.LastMessageTime, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *ContactRepository) ListContacts(ctx context.Context, companyID string) ([]domain.Contact, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		WHERE c.company_id = $1
		ORDER BY c.updated_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *ContactRepository) GetContact(ctx context.Context, companyID, contactID string) (domain.Contact, error) {
	c, err := scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		WHERE c.company_id = $1 AND c.id::text = $2`, companyID, contactID))
	return c, mapNoRows(err)
}

// FindContactByPhone expects phone in storage form.
func (r *ContactRepository) FindContactByPhone(ctx context.Context, companyID, phone string) (domain.Contact, error) {
	c, err := scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		WHERE c.company_id = $1 AND c.phone_number = $2
		LIMIT 1`, companyID, phone))
	return c, mapNoRows(err)
}

// EnsureContact returns the contact for phone, creating it in reception (no
// department) when absent. created reports whether a row was inserted.
func (r *ContactRepository) EnsureContact(ctx context.Context, companyID, phone, name string) (domain.Contact, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO contacts(company_id, phone_number, name)
		VALUES($1, $2, NULLIF($3, ''))
		ON CONFLICT (company_id, phone_number) DO NOTHING
		RETURNING id::text
	`, companyID, phone, name).Scan(&id)
	created := true
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
	} else if err != nil {
		return domain.Contact{}, false, err
	}
	c, err := r.FindContactByPhone(ctx, companyID, phone)
	return c, created, err
}

func (r *ContactRepository) UpdateContactDepartment(ctx context.Context, companyID, contactID, departmentID, sectorID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET department_id = NULLIF($3, '')::uuid, sector_id = NULLIF($4, '')::uuid, updated_at = now()
		WHERE company_id = $1 AND id::text = $2
	`, companyID, contactID, departmentID, sectorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastMessage refreshes the denormalized preview cache on the contact row.
func (r *ContactRepository) TouchLastMessage(ctx context.Context, contactID, preview, at string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET last_message = $2, last_message_time = NULLIF($3, '')::timestamptz, updated_at = now()
		WHERE id::text = $1
	`, contactID, preview, at)
	return err
}

func (r *ContactRepository) UpdateContactTagsRPC(ctx context.Context, contactID string, tagIDs []string) error {
	_, err := r.pool.Exec(ctx, `SELECT update_contact_tags($1::uuid, $2::uuid[])`, contactID, tagIDs)
	return err
}

// ReplaceContactTags rewrites the contact's tag join rows in one transaction.
func (r *ContactRepository) ReplaceContactTags(ctx context.Context, contactID string, tagIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM contact_tags WHERE contact_id::text = $1`, contactID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO contact_tags(contact_id, tag_id) VALUES($1::uuid, $2::uuid) ON CONFLICT DO NOTHING`, contactID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
