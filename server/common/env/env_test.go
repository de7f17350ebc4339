package env

import (
	"reflect"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 3 * time.Second},
		{"10s", 10 * time.Second},
		{"1500", 1500 * time.Millisecond},
		{"-1s", 3 * time.Second},
		{"soon", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("POLL_INTERVAL", tt.raw)
		if got := Duration("POLL_INTERVAL", 3*time.Second); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCSVDedupes(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example,https://a.example,, ")
	got := CSV("ALLOWED_ORIGINS", []string{"*"})
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CSV = %v, want %v", got, want)
	}

	t.Setenv("ALLOWED_ORIGINS", "")
	if got := CSV("ALLOWED_ORIGINS", []string{"*"}); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("CSV fallback = %v", got)
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("X_INT", "0")
	if got := Int("X_INT", 7); got != 7 {
		t.Errorf("Int(0) = %d, want fallback 7", got)
	}
	t.Setenv("X_BOOL", "true")
	if !Bool("X_BOOL", false) {
		t.Error("Bool(true) = false")
	}
}
