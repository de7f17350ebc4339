package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
	"chatdesk/server/dashboard/repository"
)

const contactLookupTimeout = 5 * time.Second

type contactLookup interface {
	FindContactByPhone(ctx context.Context, companyID, phone string) (domain.Contact, error)
}

// Reconciler is the only writer of a session's Store. It merges change-feed
// events, polls and local actions by key, so replays and reordering leave the
// store unchanged. After Close nothing reaches the store.
type Reconciler struct {
	store  *Store
	phones phone.Normalizer
	lookup contactLookup

	mu       sync.Mutex
	scope    domain.Scope
	open     string
	closed   bool
	lookedUp map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReconciler(store *Store, phones phone.Normalizer, scope domain.Scope, lookup contactLookup) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:    store,
		phones:   phones,
		lookup:   lookup,
		scope:    scope,
		lookedUp: map[string]struct{}{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Reconciler) Scope() domain.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

func (r *Reconciler) SetScope(scope domain.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scope = scope
}

// SetOpen records the storage-form phone of the open conversation.
func (r *Reconciler) SetOpen(phoneKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = phoneKey
}

func (r *Reconciler) Open() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Apply merges one change-feed event. It reports whether the store was
// touched.
func (r *Reconciler) Apply(ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		metrics.RecordChangeEvent(ev.Table, "closed")
		return false
	}

	var err error
	switch ev.Table {
	case domain.TableMessagesReceived, domain.TableMessagesSent:
		err = r.applyMessage(ev)
	case domain.TableContacts:
		err = r.applyContact(ev)
	case domain.TableTransfers:
		err = r.applyTransfer(ev)
	default:
		metrics.RecordChangeEvent(ev.Table, "ignored")
		return false
	}
	if err != nil {
		commonlog.Warnf("event=reconcile_apply status=failed table=%s type=%s error=%v", ev.Table, ev.EventType, err)
		metrics.RecordChangeEvent(ev.Table, "invalid")
		return false
	}
	metrics.RecordChangeEvent(ev.Table, "applied")
	return true
}

func (r *Reconciler) applyMessage(ev domain.Event) error {
	var m domain.Message
	if err := json.Unmarshal(ev.Row(), &m); err != nil {
		return err
	}
	if m.ID == "" {
		return errors.New("message row without id")
	}
	m.IsOutbound = ev.Table == domain.TableMessagesSent
	if ev.EventType == domain.EventDelete {
		r.store.RemoveMessage(m.Key())
		return nil
	}
	if !r.messageVisible(m, r.store.ContactByPhone) {
		r.store.RemoveMessage(m.Key())
		return nil
	}
	r.store.UpsertMessage(m)
	key := r.phones.NormalizeForStorage(m.Phone())
	if _, ok := r.store.ContactByPhone(key); !ok {
		r.lookupOnce(key)
	}
	return nil
}

func (r *Reconciler) applyContact(ev domain.Event) error {
	var c domain.Contact
	if err := json.Unmarshal(ev.Row(), &c); err != nil {
		return err
	}
	if c.ID == "" {
		return errors.New("contact row without id")
	}
	if ev.EventType == domain.EventDelete || !r.scope.MatchesContact(c) {
		r.store.RemoveContact(c.ID)
		return nil
	}
	// Rows straight from the contacts table carry no tag join.
	if c.TagIDs == nil {
		if prev, ok := r.store.Contact(c.ID); ok {
			c.TagIDs = prev.TagIDs
		}
	}
	r.store.UpsertContact(c)
	return nil
}

func (r *Reconciler) applyTransfer(ev domain.Event) error {
	if ev.EventType != domain.EventInsert {
		return nil
	}
	var rec domain.TransferRecord
	if err := json.Unmarshal(ev.Row(), &rec); err != nil {
		return err
	}
	r.addBanner(rec)
	return nil
}

// AddBanner shows a transfer banner in the open conversation when the
// transfer concerns its contact. The banner appears at most once per
// transfer, whichever path reports it first.
func (r *Reconciler) AddBanner(rec domain.TransferRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	return r.addBanner(rec)
}

func (r *Reconciler) addBanner(rec domain.TransferRecord) bool {
	if r.open == "" || rec.ContactID == "" {
		return false
	}
	c, ok := r.store.ContactByPhone(r.open)
	if !ok || c.ID != rec.ContactID {
		return false
	}
	banner := TransferBanner(rec, r.open, r.store.DepartmentName(rec.FromDepartmentID), r.store.DepartmentName(rec.ToDepartmentID))
	return r.store.AddSystemMessage(BannerKey(rec), banner)
}

// messageVisible applies the operator scope to a message: the company on the
// message itself, the department through the owning contact when known.
func (r *Reconciler) messageVisible(m domain.Message, contactFor func(string) (domain.Contact, bool)) bool {
	if !r.scope.MatchesCompany(m.CompanyID) {
		return false
	}
	key := r.phones.NormalizeForStorage(m.Phone())
	if key == "" {
		return false
	}
	if c, ok := contactFor(key); ok {
		return r.scope.MatchesContact(c)
	}
	if r.scope.Mode == domain.FilterAll {
		return true
	}
	return m.DepartmentID == "" || m.DepartmentID == r.scope.DepartmentID
}

// lookupOnce resolves a contact the store does not know yet. Each phone is
// looked up at most once per session.
func (r *Reconciler) lookupOnce(phoneKey string) {
	if r.lookup == nil || phoneKey == "" {
		return
	}
	if _, done := r.lookedUp[phoneKey]; done {
		return
	}
	r.lookedUp[phoneKey] = struct{}{}
	companyID := r.scope.CompanyID

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, contactLookupTimeout)
		defer cancel()
		c, err := findContact(ctx, r.lookup, r.phones, companyID, phoneKey)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, context.Canceled) {
				commonlog.Warnf("event=contact_lookup status=failed company_id=%s phone=%s error=%v", companyID, phoneKey, err)
			}
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || !r.scope.MatchesContact(c) {
			return
		}
		if _, ok := r.store.Contact(c.ID); !ok {
			r.store.UpsertContact(c)
		}
	}()
}

// findContact looks the contact up under every stored spelling of phoneKey.
func findContact(ctx context.Context, lookup contactLookup, phones phone.Normalizer, companyID, phoneKey string) (domain.Contact, error) {
	for _, v := range phones.Variants(phoneKey) {
		if !strings.HasPrefix(v, phone.CountryCode) {
			continue
		}
		c, err := lookup.FindContactByPhone(ctx, companyID, v)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Contact{}, err
		}
	}
	return domain.Contact{}, repository.ErrNotFound
}

// Mark is the store version a fetch must record before its first read and
// hand back to ReplaceAll or ReplaceConversation.
func (r *Reconciler) Mark() int64 {
	return r.store.Version()
}

// ReplaceAll installs a full load read from version since on, filtered by
// the operator scope.
func (r *Reconciler) ReplaceAll(since int64, contacts []domain.Contact, messages []domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	byPhone := map[string]domain.Contact{}
	visible := make([]domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if !r.scope.MatchesContact(c) {
			continue
		}
		visible = append(visible, c)
		byPhone[r.phones.NormalizeForStorage(c.PhoneNumber)] = c
	}
	lookup := func(key string) (domain.Contact, bool) {
		c, ok := byPhone[key]
		return c, ok
	}
	kept := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if r.messageVisible(m, lookup) {
			kept = append(kept, m)
		}
	}
	r.store.Replace(since, visible, kept)
	return true
}

// ReplaceConversation installs a poll of one conversation read from version
// since on. contact is the freshly read contact row, nil when the phone has
// none.
func (r *Reconciler) ReplaceConversation(since int64, phoneKey string, contact *domain.Contact, messages []domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if contact != nil && !r.store.ContactChangedSince(contact.ID, since) {
		if r.scope.MatchesContact(*contact) {
			r.store.UpsertContact(*contact)
		} else {
			r.store.RemoveContact(contact.ID)
		}
	}
	kept := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if r.messageVisible(m, r.store.ContactByPhone) {
			kept = append(kept, m)
		}
	}
	r.store.ReplaceConversation(since, phoneKey, kept)
	return true
}

func (r *Reconciler) SetDirectory(departments []domain.Department, sectors []domain.Sector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.store.SetDirectory(departments, sectors)
}

// UpsertLocal merges a message the operator just wrote. The change-feed echo
// of the same row lands on the same key.
func (r *Reconciler) UpsertLocal(m domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.store.UpsertMessage(m)
	return true
}

func (r *Reconciler) UpsertContactLocal(c domain.Contact) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.scope.MatchesContact(c) {
		r.store.UpsertContact(c)
	} else {
		r.store.RemoveContact(c.ID)
	}
	return true
}

func (r *Reconciler) MarkViewed(phoneKey string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	return r.store.MarkViewed(phoneKey), true
}

// Close stops all writes and waits for pending contact lookups.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
