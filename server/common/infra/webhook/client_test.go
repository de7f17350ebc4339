package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostSendsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Post(context.Background(), map[string]string{"numero": "5511999998888"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got["numero"] != "5511999998888" {
		t.Errorf("payload = %v", got)
	}
}

func TestPostCoolsDownAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithCooldown(2, time.Minute))
	for i := 0; i < 2; i++ {
		if err := c.Post(context.Background(), struct{}{}); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}
	if err := c.Post(context.Background(), struct{}{}); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("third post err = %v, want ErrCoolingDown", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("  ")
	if c.Enabled() {
		t.Fatal("blank endpoint should disable the client")
	}
	if err := c.Post(context.Background(), nil); err == nil {
		t.Fatal("expected error from disabled client")
	}
}
