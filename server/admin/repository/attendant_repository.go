package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Attendant struct {
	ID        string
	CompanyID string
	UserID    string
}

// Profile is the role record of an authenticated account.
type Profile struct {
	UserID    string
	CompanyID string
	Role      string
}

type AttendantRepository struct {
	pool *pgxpool.Pool
}

func NewAttendantRepository(pool *pgxpool.Pool) *AttendantRepository {
	return &AttendantRepository{pool: pool}
}

func (r *AttendantRepository) Profile(ctx context.Context, userID string) (Profile, error) {
	p := Profile{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT role, COALESCE(company_id::text, '')
		FROM profiles
		WHERE id::text = $1
	`, userID).Scan(&p.Role, &p.CompanyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (r *AttendantRepository) Attendant(ctx context.Context, attendantID string) (Attendant, error) {
	var a Attendant
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, company_id::text, COALESCE(user_id::text, '')
		FROM attendants
		WHERE id::text = $1
	`, attendantID).Scan(&a.ID, &a.CompanyID, &a.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attendant{}, ErrNotFound
	}
	return a, err
}

// DeleteAttendant removes the attendant row and, when it has one, its login
// account and profile. Either everything is removed or nothing is.
func (r *AttendantRepository) DeleteAttendant(ctx context.Context, a Attendant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM attendants WHERE id::text = $1`, a.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if a.UserID != "" {
		if _, err := tx.Exec(ctx, `DELETE FROM profiles WHERE id::text = $1`, a.UserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM auth.users WHERE id::text = $1`, a.UserID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
