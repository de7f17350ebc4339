package service

import (
	"testing"

	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
)

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	s.UpsertContact(domain.Contact{ID: "c1", Name: "Ana"})
	snap := s.Snapshot()

	s.UpsertContact(domain.Contact{ID: "c1", Name: "Bia"})
	s.UpsertContact(domain.Contact{ID: "c2"})

	if len(snap.Contacts) != 1 || snap.Contacts["c1"].Name != "Ana" {
		t.Errorf("snapshot changed under the caller: %+v", snap.Contacts)
	}
	if snap.Version != 1 || s.Version() != 3 {
		t.Errorf("versions = %d / %d", snap.Version, s.Version())
	}
}

func TestStoreNotifiesOnlyOnChange(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	var versions []int64
	unsubscribe := s.Subscribe(func(v int64) { versions = append(versions, v) })

	s.UpsertMessage(domain.Message{ID: "1", Numero: "5511999998888"})
	s.RemoveMessage("received:404")
	s.RemoveContact("missing")
	s.RemoveMessage("received:1")
	unsubscribe()
	s.UpsertMessage(domain.Message{ID: "2"})

	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Errorf("notified versions = %v, want [1 2]", versions)
	}
}

func TestStoreSystemMessagesDedupeAndSurvive(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	banner := domain.Message{ID: "b1", Numero: "5511999998888", Type: domain.TypeSystemTransfer}
	if !s.AddSystemMessage("transfer:t1", banner) {
		t.Fatal("first banner rejected")
	}
	banner.ID = "b2"
	if s.AddSystemMessage("transfer:t1", banner) {
		t.Error("second banner for the same transfer accepted")
	}

	s.Replace(s.Version(), nil, []domain.Message{{ID: "9", Numero: "5511999998888"}})
	s.ReplaceConversation(s.Version(), "5511999998888", nil)

	msgs := s.Snapshot().Messages
	if _, ok := msgs["system:b1"]; !ok || len(msgs) != 1 {
		t.Errorf("messages = %v, want only the banner", msgs)
	}
}

func TestStoreReplaceConversationOnlyTouchesThatPhone(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	s.Replace(s.Version(), nil, []domain.Message{
		{ID: "1", Numero: "5511999998888"},
		{ID: "2", Numero: "11999998888@s.whatsapp.net"},
		{ID: "3", Numero: "5511777776666"},
	})
	s.ReplaceConversation(s.Version(), "5511999998888", []domain.Message{{ID: "4", Numero: "5511999998888"}})

	msgs := s.Snapshot().Messages
	for _, key := range []string{"received:3", "received:4"} {
		if _, ok := msgs[key]; !ok {
			t.Errorf("missing %s", key)
		}
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
}

func TestStoreMarkViewed(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	s.Replace(s.Version(), nil, []domain.Message{
		{ID: "1", Numero: "5511999998888", Timestamp: "1700000000"},
		{ID: "2", Numero: "5511999998888", DateTime: "2023-11-14T22:14:20Z"},
		{ID: "3", Numero: "5511777776666", Timestamp: "1800000000"},
	})

	if got := s.MarkViewed("5511999998888"); got != 1700000060000 {
		t.Errorf("MarkViewed = %d, want 1700000060000", got)
	}
	v := s.Version()
	s.MarkViewed("5511999998888")
	if s.Version() != v {
		t.Error("unchanged mark bumped the version")
	}
	if got := s.Snapshot().LastViewed["5511999998888"]; got != 1700000060000 {
		t.Errorf("LastViewed = %d", got)
	}
}

func TestStoreContactByPhone(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	s.UpsertContact(domain.Contact{ID: "c1", PhoneNumber: "(11) 99999-8888"})
	if c, ok := s.ContactByPhone("5511999998888"); !ok || c.ID != "c1" {
		t.Errorf("ContactByPhone = %+v, %v", c, ok)
	}
	if _, ok := s.ContactByPhone("5511000000000"); ok {
		t.Error("unexpected match")
	}
}

func TestStoreReplaceKeepsWritesAfterMark(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	c := domain.Contact{ID: "c1", PhoneNumber: "5511999998888", Name: "Ana"}
	s.Replace(s.Version(), []domain.Contact{c}, []domain.Message{
		{ID: "1", Numero: "5511999998888"},
		{ID: "2", Numero: "5511999998888"},
	})

	since := s.Version()
	renamed := c
	renamed.Name = "Ana Paula"
	s.UpsertContact(renamed)
	s.UpsertMessage(domain.Message{ID: "3", Numero: "5511999998888"})
	s.RemoveMessage("received:2")

	// The stale read still has message 2 and the old name, and lacks 3.
	s.Replace(since, []domain.Contact{c}, []domain.Message{
		{ID: "1", Numero: "5511999998888"},
		{ID: "2", Numero: "5511999998888"},
	})
	snap := s.Snapshot()
	if snap.Contacts["c1"].Name != "Ana Paula" {
		t.Errorf("contact = %+v, want the newer write", snap.Contacts["c1"])
	}
	for key, want := range map[string]bool{"received:1": true, "received:2": false, "received:3": true} {
		if _, ok := snap.Messages[key]; ok != want {
			t.Errorf("%s present = %v, want %v", key, ok, want)
		}
	}

	// A read taken after those writes is authoritative again.
	s.Replace(s.Version(), []domain.Contact{c}, []domain.Message{{ID: "1", Numero: "5511999998888"}})
	snap = s.Snapshot()
	if len(snap.Messages) != 1 || snap.Contacts["c1"].Name != "Ana" {
		t.Errorf("fresh replace = %v / %+v", snap.Messages, snap.Contacts["c1"])
	}
}

func TestStoreReplaceConversationKeepsWritesAfterMark(t *testing.T) {
	s := NewStore(phone.Normalizer{})
	s.Replace(s.Version(), nil, []domain.Message{{ID: "1", Numero: "5511999998888"}})

	since := s.Version()
	s.UpsertMessage(domain.Message{ID: "2", Numero: "5511999998888"})
	s.ReplaceConversation(since, "5511999998888", []domain.Message{{ID: "1", Numero: "5511999998888"}})

	msgs := s.Snapshot().Messages
	if len(msgs) != 2 {
		t.Errorf("messages = %v, want 1 and 2", msgs)
	}
}
