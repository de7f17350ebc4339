package service

import (
	commonauth "chatdesk/server/common/auth"
	"chatdesk/server/dashboard/domain"
)

// Operator is the authenticated person a session works for.
type Operator struct {
	UserID       string
	CompanyID    string
	DepartmentID string
	SectorID     string
	CompanyWide  bool
}

func OperatorFromClaims(c *commonauth.Claims) Operator {
	return Operator{
		UserID:       c.UserID,
		CompanyID:    c.CompanyID,
		DepartmentID: c.DepartmentID,
		SectorID:     c.SectorID,
		CompanyWide:  c.CompanyWide(),
	}
}

// DefaultMode is "all" for company-wide operators and "mine" for attendants.
func (o Operator) DefaultMode() domain.FilterMode {
	if o.CompanyWide {
		return domain.FilterAll
	}
	return domain.FilterMine
}

func (o Operator) Scope(mode domain.FilterMode) domain.Scope {
	return domain.Scope{
		CompanyID:    o.CompanyID,
		DepartmentID: o.DepartmentID,
		SectorID:     o.SectorID,
		Mode:         mode,
	}
}
