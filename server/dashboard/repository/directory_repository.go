package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"chatdesk/server/dashboard/domain"
)

// DirectoryRepository reads the company, department and sector catalogue.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) Company(ctx context.Context, companyID string) (domain.Company, error) {
	var c domain.Company
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(api_key, '')
		FROM companies
		WHERE id::text = $1
	`, companyID).Scan(&c.ID, &c.Name, &c.APIKey)
	return c, mapNoRows(err)
}

func (r *DirectoryRepository) CompanyByAPIKey(ctx context.Context, apiKey string) (domain.Company, error) {
	var c domain.Company
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(api_key, '')
		FROM companies
		WHERE api_key = $1
	`, apiKey).Scan(&c.ID, &c.Name, &c.APIKey)
	return c, mapNoRows(err)
}

func (r *DirectoryRepository) Departments(ctx context.Context, companyID string) ([]domain.Department, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, company_id::text, name
		FROM departments
		WHERE company_id::text = $1
		ORDER BY name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Department, 0)
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Name); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *DirectoryRepository) Sectors(ctx context.Context, companyID string) ([]domain.Sector, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.department_id::text, s.name
		FROM sectors s
		JOIN departments d ON d.id = s.department_id
		WHERE d.company_id::text = $1
		ORDER BY s.name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Sector, 0)
	for rows.Next() {
		var s domain.Sector
		if err := rows.Scan(&s.ID, &s.DepartmentID, &s.Name); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
