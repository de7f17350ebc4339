package domain

type FilterMode string

const (
	// FilterMine restricts the dashboard to the operator's department (and sector).
	FilterMine FilterMode = "mine"
	// FilterAll shows every contact of the company.
	FilterAll FilterMode = "all"
)

func ParseFilterMode(v string) FilterMode {
	if FilterMode(v) == FilterAll {
		return FilterAll
	}
	return FilterMine
}

// Scope is the operator-scope predicate both dashboard variants reduce to:
// an attendant sees their department (and sector), a company admin sees all.
type Scope struct {
	CompanyID    string
	DepartmentID string
	SectorID     string
	Mode         FilterMode
}

func (s Scope) MatchesContact(c Contact) bool {
	if c.CompanyID != "" && c.CompanyID != s.CompanyID {
		return false
	}
	if s.Mode == FilterAll {
		return true
	}
	if c.DepartmentID != s.DepartmentID {
		return false
	}
	return s.SectorID == "" || c.SectorID == s.SectorID
}

// MatchesCompany accepts rows of the scope's company and rows with no company.
func (s Scope) MatchesCompany(companyID string) bool {
	return companyID == "" || companyID == s.CompanyID
}
