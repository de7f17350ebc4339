package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatdesk/server/dashboard/domain"
)

type TransferRepository struct {
	pool *pgxpool.Pool
}

func NewTransferRepository(pool *pgxpool.Pool) *TransferRepository {
	return &TransferRepository{pool: pool}
}

const transferColumns = `id::text, company_id::text, contact_id::text, COALESCE(from_department_id::text, ''), to_department_id::text, created_at`

func scanTransfer(row pgx.Row) (domain.TransferRecord, error) {
	var t domain.TransferRecord
	err := row.Scan(&t.ID, &t.CompanyID, &t.ContactID, &t.FromDepartmentID, &t.ToDepartmentID, &t.CreatedAt)
	return t, err
}

func collectTransfers(rows pgx.Rows) ([]domain.TransferRecord, error) {
	defer rows.Close()
	items := make([]domain.TransferRecord, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// TransferContactRPC moves the contact and records history atomically on the
// server. It returns the created transfer record.
func (r *TransferRepository) TransferContactRPC(ctx context.Context, companyID, contactID, toDepartmentID string) (domain.TransferRecord, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_contact_department($1::uuid, $2::uuid, $3::uuid)
	`, companyID, contactID, toDepartmentID))
}

func (r *TransferRepository) RecordTransferRPC(ctx context.Context, apiKey, contactID, fromDepartmentID, toDepartmentID string) (domain.TransferRecord, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM registrar_transferencia_por_contact_id($1, $2::uuid, NULLIF($3, '')::uuid, $4::uuid)
	`, apiKey, contactID, fromDepartmentID, toDepartmentID))
}

func (r *TransferRepository) InsertTransfer(ctx context.Context, t domain.TransferRecord) (domain.TransferRecord, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `
		INSERT INTO transfers(company_id, contact_id, from_department_id, to_department_id)
		VALUES($1::uuid, $2::uuid, NULLIF($3, '')::uuid, $4::uuid)
		RETURNING `+transferColumns,
		t.CompanyID, t.ContactID, t.FromDepartmentID, t.ToDepartmentID))
}

func (r *TransferRepository) ListTransfersRPC(ctx context.Context, apiKey string) ([]domain.TransferRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM listar_transferencias($1)`, apiKey)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (r *TransferRepository) ListTransfers(ctx context.Context, companyID string) ([]domain.TransferRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE company_id::text = $1
		ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}
