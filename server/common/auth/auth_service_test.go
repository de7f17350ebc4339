package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParseToken(t *testing.T) {
	svc := NewService("secret", 60)
	token, err := svc.GenerateToken(Claims{UserID: "u1", CompanyID: "co", DepartmentID: "d1", Role: RoleAttendant})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != "u1" || claims.Subject != "u1" || claims.CompanyID != "co" || claims.DepartmentID != "d1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.CompanyWide() {
		t.Error("attendant reported as company-wide")
	}
}

func TestParseTokenRejects(t *testing.T) {
	svc := NewService("secret", 60)
	other, _ := NewService("other", 60).GenerateToken(Claims{UserID: "u1"})
	expired, _ := NewService("secret", -1).GenerateToken(Claims{UserID: "u1"})
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	anonymous, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))

	tests := map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"alg none":     none,
		"no subject":   anonymous,
		"garbage":      "not-a-jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ParseToken(token); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestCompanyWide(t *testing.T) {
	for role, want := range map[string]bool{RoleAttendant: false, RoleAdmin: true, RoleSuperAdmin: true, "": false} {
		if got := (&Claims{Role: role}).CompanyWide(); got != want {
			t.Errorf("CompanyWide(%q) = %v, want %v", role, got, want)
		}
	}
}
