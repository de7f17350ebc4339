package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatdesk/server/dashboard/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `
	id::text, COALESCE(idmessage, ''), COALESCE(numero, ''), COALESCE(sender, ''), COALESCE(message, ''),
	COALESCE(tipomessage, ''), COALESCE(caption, ''), COALESCE(base64, ''), COALESCE(mimetype, ''),
	COALESCE("timestamp", ''), COALESCE(date_time::text, ''), COALESCE(created_at::text, ''), COALESCE("minha?", 'false'),
	COALESCE(department_id::text, ''), COALESCE(sector_id::text, ''), COALESCE(tag_id::text, ''),
	COALESCE(company_id::text, ''), COALESCE(instancia, ''), COALESCE(apikey_instancia, ''),
	COALESCE(reaction_target_id, '')`

// phoneDigits is the SQL rendering of phone.Normalize over numero/sender.
const phoneDigits = `regexp_replace(split_part(COALESCE(NULLIF(numero, ''), sender, ''), '@', 1), '[^0-9]', '', 'g')`

func messageTable(table string) (string, error) {
	switch table {
	case domain.TableMessagesReceived, domain.TableMessagesSent:
		return table, nil
	}
	return "", fmt.Errorf("unknown message table %q", table)
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m     domain.Message
		minha string
	)
	err := row.Scan(&m.ID, &m.IDMessage, &m.Numero, &m.Sender, &m.Body, &m.Type, &m.Caption, &m.Base64,
		&m.Mimetype, &m.Timestamp, &m.DateTime, &m.CreatedAt, &minha, &m.DepartmentID, &m.SectorID,
		&m.TagID, &m.CompanyID, &m.Instancia, &m.ApiKeyInstancia, &m.ReactionTargetID)
	m.IsOutbound = domain.ParseOutboundFlag(minha)
	return m, err
}

// ListMessages reads one stream for a company. With phones set, only rows
// whose digits-only numero/sender is one of them are returned.
func (r *MessageRepository) ListMessages(ctx context.Context, table, companyID string, phones ...string) ([]domain.Message, error) {
	table, err := messageTable(table)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + messageColumns + ` FROM ` + table + ` WHERE company_id::text = $1`
	args := []any{companyID}
	if len(phones) > 0 {
		query += ` AND ` + phoneDigits + ` = ANY($2)`
		args = append(args, phones)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *MessageRepository) InsertMessage(ctx context.Context, table string, m domain.Message) (domain.Message, error) {
	table, err := messageTable(table)
	if err != nil {
		return m, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO `+table+`(idmessage, numero, sender, message, tipomessage, caption, base64, mimetype,
			"timestamp", date_time, "minha?", department_id, sector_id, tag_id, company_id, instancia,
			apikey_instancia, reaction_target_id)
		VALUES(NULLIF($1, ''), $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			NULLIF($9, ''), NULLIF($10, '')::timestamptz, $11, NULLIF($12, '')::uuid, NULLIF($13, '')::uuid,
			NULLIF($14, '')::uuid, NULLIF($15, '')::uuid, NULLIF($16, ''), NULLIF($17, ''), NULLIF($18, ''))
		RETURNING `+messageColumns,
		m.IDMessage, m.Numero, m.Sender, m.Body, m.Type, m.Caption, m.Base64, m.Mimetype,
		m.Timestamp, m.DateTime, domain.FormatOutboundFlag(m.IsOutbound), m.DepartmentID, m.SectorID,
		m.TagID, m.CompanyID, m.Instancia, m.ApiKeyInstancia, m.ReactionTargetID)
	return scanMessage(row)
}
