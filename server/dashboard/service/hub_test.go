package service

import (
	"context"
	"testing"

	"chatdesk/server/dashboard/domain"
)

func TestHubSharesSessionPerOperator(t *testing.T) {
	f := newSessionFixture(domain.Contact{ID: "c1", CompanyID: "co", PhoneNumber: "5511999998888", DepartmentID: "d1"})
	hub := NewHub(f.deps, nil)

	s1, release1, err := hub.Acquire(context.Background(), attendant)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s2, release2, err := hub.Acquire(context.Background(), attendant)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s1 != s2 {
		t.Fatal("same operator got two sessions")
	}
	s3, release3, err := hub.Acquire(context.Background(), admin)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s3 == s1 || hub.Len() != 2 {
		t.Fatalf("sessions = %d", hub.Len())
	}

	release1()
	release1()
	if s1.Closed() {
		t.Fatal("session closed while still held")
	}
	release2()
	if !s1.Closed() || hub.Len() != 1 {
		t.Errorf("closed = %v, sessions = %d", s1.Closed(), hub.Len())
	}

	hub.Close()
	if !s3.Closed() || hub.Len() != 0 {
		t.Error("Close left a session open")
	}
	release3()
}

func TestHubRegistersSessionsWithPoller(t *testing.T) {
	f := newSessionFixture()
	poller := NewPoller(0)
	hub := NewHub(f.deps, poller)

	s, release, err := hub.Acquire(context.Background(), attendant)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	poller.mu.Lock()
	_, registered := poller.sessions[s]
	poller.mu.Unlock()
	if !registered {
		t.Fatal("session not registered with the poller")
	}

	release()
	poller.mu.Lock()
	_, registered = poller.sessions[s]
	poller.mu.Unlock()
	if registered {
		t.Error("released session still polled")
	}
}

func TestHubHoldersShareOpenConversationAndFilter(t *testing.T) {
	f := newSessionFixture(domain.Contact{ID: "c1", CompanyID: "co", PhoneNumber: "5511999998888", DepartmentID: "d1"})
	hub := NewHub(f.deps, nil)
	defer hub.Close()

	tab1, release1, err := hub.Acquire(context.Background(), attendant)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release1()
	tab2, release2, err := hub.Acquire(context.Background(), attendant)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release2()

	if err := tab1.OpenConversation(context.Background(), "11999998888"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if got := tab2.OpenPhone(); got != "5511999998888" {
		t.Errorf("second holder open phone = %q", got)
	}
	if err := tab2.SetFilter(context.Background(), domain.FilterAll); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if got := tab1.State().Filter; got != domain.FilterAll {
		t.Errorf("first holder filter = %q", got)
	}
}
