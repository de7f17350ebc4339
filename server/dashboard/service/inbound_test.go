package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chatdesk/server/common/infra/changefeed"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
)

func TestInboundMessageDecodesPushName(t *testing.T) {
	var in InboundMessage
	raw := `{"numero":"5511999998888@s.whatsapp.net","message":"oi","tipomessage":"conversation","pushname":"Ana","minha?":"false","timestamp":"1700000000"}`
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.PushName != "Ana" || in.Message.Body != "oi" || in.Message.Timestamp != "1700000000" {
		t.Errorf("decoded = %+v", in)
	}
}

func TestIngestCreatesContactInReception(t *testing.T) {
	contacts := newFakeContacts()
	messages := newFakeMessages()
	feed := &fakeFeed{}
	ing := NewIngestor(messages, contacts, feed, phone.Normalizer{})
	company := domain.Company{ID: "co"}

	in := InboundMessage{Message: domain.Message{Numero: "11999998888@s.whatsapp.net", Body: "oi", Timestamp: "1700000000"}, PushName: "Ana"}
	m, err := ing.Ingest(context.Background(), company, in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if m.ID == "" || m.CompanyID != "co" || m.IsOutbound || m.DepartmentID != "" {
		t.Errorf("stored = %+v", m)
	}
	if feed.publishedTo(changefeed.Channel("co", domain.TableContacts)) != 1 {
		t.Error("new contact not announced")
	}
	if feed.publishedTo(changefeed.Channel("co", domain.TableMessagesReceived)) != 1 {
		t.Error("message not announced")
	}

	var created domain.Contact
	for _, c := range contacts.contacts {
		created = c
	}
	if created.PhoneNumber != "5511999998888" || created.Name != "Ana" || created.LastMessage != "oi" {
		t.Errorf("contact = %+v", created)
	}

	if _, err := ing.Ingest(context.Background(), company, in); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(contacts.contacts) != 1 {
		t.Errorf("contacts = %d, want 1", len(contacts.contacts))
	}
	if feed.publishedTo(changefeed.Channel("co", domain.TableContacts)) != 1 {
		t.Error("existing contact announced again")
	}
}

func TestIngestInheritsContactDepartment(t *testing.T) {
	contacts := newFakeContacts(domain.Contact{ID: "c1", CompanyID: "co", PhoneNumber: "5511999998888", DepartmentID: "d1", SectorID: "s1", LastMessage: "antes"})
	ing := NewIngestor(newFakeMessages(), contacts, nil, phone.Normalizer{})

	m, err := ing.Ingest(context.Background(), domain.Company{ID: "co"},
		InboundMessage{Message: domain.Message{Numero: "5511999998888", Type: domain.TypeReaction, Body: "👍", ReactionTargetID: "ABC"}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if m.DepartmentID != "d1" || m.SectorID != "s1" {
		t.Errorf("stored = %+v", m)
	}
	if got := contacts.contacts["c1"].LastMessage; got != "antes" {
		t.Errorf("reaction touched the contact preview: %q", got)
	}
}

func TestIngestValidation(t *testing.T) {
	ing := NewIngestor(newFakeMessages(), newFakeContacts(), nil, phone.Normalizer{})
	for _, in := range []InboundMessage{
		{Message: domain.Message{Body: "oi"}},
		{Message: domain.Message{Numero: "5511999998888"}},
	} {
		if _, err := ing.Ingest(context.Background(), domain.Company{ID: "co"}, in); !errors.Is(err, ErrValidation) {
			t.Errorf("Ingest(%+v) err = %v, want validation", in.Message, err)
		}
	}
}
