package service

import (
	"sort"
	"strings"
	"sync"

	"chatdesk/server/dashboard/conversation"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
)

const systemKeyPrefix = "system:"

// Snapshot is a point-in-time copy of a Store. Callers may read it freely;
// the store never mutates a snapshot it has handed out.
type Snapshot struct {
	Version     int64
	Contacts    map[string]domain.Contact
	Messages    map[string]domain.Message
	LastViewed  map[string]int64
	Departments map[string]domain.Department
	Sectors     map[string]domain.Sector
}

func (s Snapshot) ContactList() []domain.Contact {
	out := make([]domain.Contact, 0, len(s.Contacts))
	for _, c := range s.Contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s Snapshot) MessageList() []domain.Message {
	keys := make([]string, 0, len(s.Messages))
	for k := range s.Messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.Message, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Messages[k])
	}
	return out
}

func (s Snapshot) DepartmentName(id string) string {
	if d, ok := s.Departments[id]; ok {
		return d.Name
	}
	return ""
}

func (s Snapshot) SectorName(id string) string {
	if sec, ok := s.Sectors[id]; ok {
		return sec.Name
	}
	return ""
}

// Store holds one session's cached contacts and messages. Entries are only
// ever replaced whole; every mutation bumps Version and notifies subscribers
// after the lock is released.
type Store struct {
	mu          sync.Mutex
	phones      phone.Normalizer
	version     int64
	contacts    map[string]domain.Contact
	messages    map[string]domain.Message
	lastViewed  map[string]int64
	departments map[string]domain.Department
	sectors     map[string]domain.Sector
	banners     map[string]struct{}

	// contactMarks and messageMarks hold the version of the last upsert or
	// removal of each key, tombstones included.
	contactMarks map[string]int64
	messageMarks map[string]int64

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(version int64)
}

func NewStore(phones phone.Normalizer) *Store {
	return &Store{
		phones:      phones,
		contacts:    map[string]domain.Contact{},
		messages:    map[string]domain.Message{},
		lastViewed:  map[string]int64{},
		departments: map[string]domain.Department{},
		sectors:     map[string]domain.Sector{},
		banners:     map[string]struct{}{},
		subs:        map[int]func(int64){},

		contactMarks: map[string]int64{},
		messageMarks: map[string]int64{},
	}
}

// Subscribe registers fn to run after every mutation.
func (s *Store) Subscribe(fn func(version int64)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Version:     s.version,
		Contacts:    copyMap(s.contacts),
		Messages:    copyMap(s.messages),
		LastViewed:  copyMap(s.lastViewed),
		Departments: copyMap(s.departments),
		Sectors:     copyMap(s.sectors),
	}
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mutate runs fn under the lock and notifies subscribers when fn reports a
// change.
func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	if changed {
		s.version++
	}
	version := s.version
	s.mu.Unlock()
	if changed {
		s.notify(version)
	}
}

func (s *Store) notify(version int64) {
	s.subMu.Lock()
	fns := make([]func(int64), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(version)
	}
}

// Replace swaps in a full re-poll whose reads began at version since.
// Keys written after since keep their current state, so a snapshot read
// before a realtime write cannot undo it. UI-only system messages survive.
func (s *Store) Replace(since int64, contacts []domain.Contact, messages []domain.Message) {
	s.mutate(func() bool {
		nextContacts := make(map[string]domain.Contact, len(contacts))
		for _, c := range contacts {
			nextContacts[c.ID] = c
		}
		nextMessages := make(map[string]domain.Message, len(messages))
		for k, m := range s.messages {
			if strings.HasPrefix(k, systemKeyPrefix) {
				nextMessages[k] = m
			}
		}
		for _, m := range messages {
			nextMessages[m.Key()] = m
		}
		keepNewer(nextContacts, s.contacts, s.contactMarks, since)
		keepNewer(nextMessages, s.messages, s.messageMarks, since)
		s.contacts = nextContacts
		s.messages = nextMessages
		return true
	})
}

// keepNewer carries every key of cur written after since into next,
// including removals, and forgets the marks the replacement supersedes.
func keepNewer[V any](next, cur map[string]V, marks map[string]int64, since int64) {
	for k, mark := range marks {
		if mark <= since {
			delete(marks, k)
			continue
		}
		if v, ok := cur[k]; ok {
			next[k] = v
		} else {
			delete(next, k)
		}
	}
}

// ReplaceConversation swaps the stored messages of one phone for msgs, read
// from version since on. Messages written after since are left as they are,
// and UI-only system messages are kept.
func (s *Store) ReplaceConversation(since int64, phoneKey string, msgs []domain.Message) {
	s.mutate(func() bool {
		for k, m := range s.messages {
			if strings.HasPrefix(k, systemKeyPrefix) || s.messageMarks[k] > since {
				continue
			}
			if s.phones.NormalizeForStorage(m.Phone()) == phoneKey {
				delete(s.messages, k)
			}
		}
		for _, m := range msgs {
			if s.messageMarks[m.Key()] > since {
				continue
			}
			s.messages[m.Key()] = m
		}
		return true
	})
}

// ContactChangedSince reports whether contact id was upserted or removed
// after version since.
func (s *Store) ContactChangedSince(id string, since int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contactMarks[id] > since
}

func (s *Store) SetDirectory(departments []domain.Department, sectors []domain.Sector) {
	s.mutate(func() bool {
		s.departments = make(map[string]domain.Department, len(departments))
		for _, d := range departments {
			s.departments[d.ID] = d
		}
		s.sectors = make(map[string]domain.Sector, len(sectors))
		for _, sec := range sectors {
			s.sectors[sec.ID] = sec
		}
		return true
	})
}

func (s *Store) UpsertContact(c domain.Contact) {
	s.mutate(func() bool {
		s.contacts[c.ID] = c
		s.contactMarks[c.ID] = s.version + 1
		return true
	})
}

func (s *Store) RemoveContact(id string) {
	s.mutate(func() bool {
		s.contactMarks[id] = s.version + 1
		if _, ok := s.contacts[id]; !ok {
			return false
		}
		delete(s.contacts, id)
		return true
	})
}

func (s *Store) UpsertMessage(m domain.Message) {
	s.mutate(func() bool {
		s.messages[m.Key()] = m
		s.messageMarks[m.Key()] = s.version + 1
		return true
	})
}

func (s *Store) RemoveMessage(key string) {
	s.mutate(func() bool {
		s.messageMarks[key] = s.version + 1
		if _, ok := s.messages[key]; !ok {
			return false
		}
		delete(s.messages, key)
		return true
	})
}

// AddSystemMessage stores a UI-only message once per dedupe key. It reports
// false when the key was already used.
func (s *Store) AddSystemMessage(dedupeKey string, m domain.Message) bool {
	added := false
	s.mutate(func() bool {
		if _, seen := s.banners[dedupeKey]; seen {
			return false
		}
		s.banners[dedupeKey] = struct{}{}
		s.messages[systemKeyPrefix+m.ID] = m
		added = true
		return true
	})
	return added
}

// MarkViewed sets the high-water mark for phoneKey to the newest message
// timestamp in its conversation and returns it.
func (s *Store) MarkViewed(phoneKey string) int64 {
	var latest int64
	s.mutate(func() bool {
		for _, m := range s.messages {
			if s.phones.NormalizeForStorage(m.Phone()) != phoneKey {
				continue
			}
			if ts := conversation.ResolveTimestamp(m); ts > latest {
				latest = ts
			}
		}
		if prev, ok := s.lastViewed[phoneKey]; ok && prev == latest {
			return false
		}
		s.lastViewed[phoneKey] = latest
		return true
	})
	return latest
}

func (s *Store) Contact(id string) (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return c, ok
}

// ContactByPhone finds a cached contact whose storage-form phone is phoneKey.
func (s *Store) ContactByPhone(phoneKey string) (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if s.phones.NormalizeForStorage(c.PhoneNumber) == phoneKey {
			return c, true
		}
	}
	return domain.Contact{}, false
}

func (s *Store) DepartmentName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.departments[id].Name
}
