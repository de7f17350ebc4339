package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAttendant  = "attendant"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Claims identify an operator: the company they work for and, for
// attendants, the department and sector whose conversations they handle.
type Claims struct {
	UserID       string `json:"user_id"`
	CompanyID    string `json:"company_id"`
	DepartmentID string `json:"department_id,omitempty"`
	SectorID     string `json:"sector_id,omitempty"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// CompanyWide reports whether the operator sees every contact of the company.
func (c *Claims) CompanyWide() bool {
	return c.Role == RoleAdmin || c.Role == RoleSuperAdmin
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttlMinutes int) *Service {
	return &Service{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

func (s *Service) GenerateToken(claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
