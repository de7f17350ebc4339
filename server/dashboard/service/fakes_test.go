package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatdesk/server/common/infra/changefeed"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
	"chatdesk/server/dashboard/repository"
)

type fakeContacts struct {
	mu       sync.Mutex
	contacts map[string]domain.Contact
	calls    int
	listGate chan struct{}
	updErr   error
	tagRPC   error
	tagCalls []string
	tags     map[string][]string
	lookups  int
}

func newFakeContacts(cs ...domain.Contact) *fakeContacts {
	f := &fakeContacts{contacts: map[string]domain.Contact{}, tags: map[string][]string{}}
	for _, c := range cs {
		f.contacts[c.ID] = c
	}
	return f
}

func (f *fakeContacts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeContacts) ListContacts(ctx context.Context, companyID string) ([]domain.Contact, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := []domain.Contact{}
	for _, c := range f.contacts {
		if c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContacts) GetContact(ctx context.Context, companyID, contactID string) (domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c, ok := f.contacts[contactID]
	if !ok {
		return domain.Contact{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeContacts) FindContactByPhone(ctx context.Context, companyID, p string) (domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lookups++
	for _, c := range f.contacts {
		if c.CompanyID == companyID && phone.NormalizeForStorage(c.PhoneNumber) == p {
			return c, nil
		}
	}
	return domain.Contact{}, repository.ErrNotFound
}

func (f *fakeContacts) EnsureContact(ctx context.Context, companyID, p, name string) (domain.Contact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, c := range f.contacts {
		if c.CompanyID == companyID && c.PhoneNumber == p {
			return c, false, nil
		}
	}
	c := domain.Contact{ID: fmt.Sprintf("new-%d", len(f.contacts)+1), CompanyID: companyID, PhoneNumber: p, Name: name}
	f.contacts[c.ID] = c
	return c, true, nil
}

func (f *fakeContacts) UpdateContactDepartment(ctx context.Context, companyID, contactID, departmentID, sectorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.updErr != nil {
		return f.updErr
	}
	c, ok := f.contacts[contactID]
	if !ok {
		return repository.ErrNotFound
	}
	c.DepartmentID = departmentID
	c.SectorID = sectorID
	f.contacts[contactID] = c
	return nil
}

func (f *fakeContacts) TouchLastMessage(ctx context.Context, contactID, preview, at string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c := f.contacts[contactID]
	c.LastMessage = preview
	c.LastMessageTime = at
	f.contacts[contactID] = c
	return nil
}

func (f *fakeContacts) UpdateContactTagsRPC(ctx context.Context, contactID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagCalls = append(f.tagCalls, "rpc")
	if f.tagRPC != nil {
		return f.tagRPC
	}
	f.tags[contactID] = tagIDs
	return nil
}

func (f *fakeContacts) ReplaceContactTags(ctx context.Context, contactID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagCalls = append(f.tagCalls, "replace")
	f.tags[contactID] = tagIDs
	return nil
}

type fakeMessages struct {
	mu      sync.Mutex
	rows    map[string][]domain.Message
	nextID  int
	calls   int
	inserts int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: map[string][]domain.Message{}}
}

func (f *fakeMessages) add(table string, m domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[table] = append(f.rows[table], m)
}

func (f *fakeMessages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMessages) ListMessages(ctx context.Context, table, companyID string, phones ...string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := []domain.Message{}
	for _, m := range f.rows[table] {
		if m.CompanyID != companyID {
			continue
		}
		if len(phones) > 0 && !containsString(phones, phone.Normalize(m.Phone())) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMessages) InsertMessage(ctx context.Context, table string, m domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.nextID++
	m.ID = fmt.Sprintf("%d", 1000+f.nextID)
	m.CreatedAt = "2024-01-01T00:00:00Z"
	f.rows[table] = append(f.rows[table], m)
	return m, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeTransfers struct {
	mu        sync.Mutex
	rpcErr    error
	recordErr error
	insertErr error
	calls     []string
	nextID    int
}

func (f *fakeTransfers) record(name string) string {
	f.calls = append(f.calls, name)
	f.nextID++
	return fmt.Sprintf("t%d", f.nextID)
}

func (f *fakeTransfers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransfers) TransferContactRPC(ctx context.Context, companyID, contactID, toDepartmentID string) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.record("transfer_rpc")
	if f.rpcErr != nil {
		return domain.TransferRecord{}, f.rpcErr
	}
	return domain.TransferRecord{ID: id, CompanyID: companyID, ContactID: contactID, ToDepartmentID: toDepartmentID}, nil
}

func (f *fakeTransfers) RecordTransferRPC(ctx context.Context, apiKey, contactID, fromDepartmentID, toDepartmentID string) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.record("record_rpc")
	if f.recordErr != nil {
		return domain.TransferRecord{}, f.recordErr
	}
	return domain.TransferRecord{ID: id, ContactID: contactID, FromDepartmentID: fromDepartmentID, ToDepartmentID: toDepartmentID}, nil
}

func (f *fakeTransfers) InsertTransfer(ctx context.Context, t domain.TransferRecord) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.record("insert")
	if f.insertErr != nil {
		return domain.TransferRecord{}, f.insertErr
	}
	t.ID = id
	t.CreatedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return t, nil
}

func (f *fakeTransfers) ListTransfersRPC(ctx context.Context, apiKey string) ([]domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list_rpc")
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	return []domain.TransferRecord{{ID: "rpc"}}, nil
}

func (f *fakeTransfers) ListTransfers(ctx context.Context, companyID string) ([]domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	return []domain.TransferRecord{{ID: "direct", CompanyID: companyID}}, nil
}

type fakeDirectory struct {
	mu          sync.Mutex
	company     domain.Company
	departments []domain.Department
	sectors     []domain.Sector
	calls       int
}

func (f *fakeDirectory) Company(ctx context.Context, companyID string) (domain.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.company.ID != companyID {
		return domain.Company{}, repository.ErrNotFound
	}
	return f.company, nil
}

func (f *fakeDirectory) Departments(ctx context.Context, companyID string) ([]domain.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.departments, nil
}

func (f *fakeDirectory) Sectors(ctx context.Context, companyID string) ([]domain.Sector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sectors, nil
}

func (f *fakeDirectory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFeed delivers published events synchronously to matching subscribers.
type fakeFeed struct {
	mu        sync.Mutex
	subs      []*fakeSub
	published []string
}

type fakeSub struct {
	feed    *fakeFeed
	channel string
	filter  changefeed.Filter
	fn      changefeed.Handler
	closed  bool
}

func (s *fakeSub) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closed = true
}

func (f *fakeFeed) Publish(ctx context.Context, companyID, table string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	channel := changefeed.Channel(companyID, table)
	f.mu.Lock()
	f.published = append(f.published, channel)
	var targets []*fakeSub
	for _, s := range f.subs {
		if !s.closed && s.channel == channel && s.filter.Match(b) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()
	for _, s := range targets {
		s.fn(b)
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, companyID, table string, filter changefeed.Filter, fn changefeed.Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{feed: f, channel: changefeed.Channel(companyID, table), filter: filter, fn: fn}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) open() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeFeed) publishedTo(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.published {
		if c == channel {
			n++
		}
	}
	return n
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Publish(ctx context.Context, companyID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, companyID+"."+event)
	return nil
}

func (f *fakeEvents) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func mustEvent(table string, eventType domain.EventType, companyID string, row any) domain.Event {
	ev, err := domain.NewEvent(table, eventType, companyID, row)
	if err != nil {
		panic(err)
	}
	return ev
}

// eventually polls cond until it holds or a second has passed.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
