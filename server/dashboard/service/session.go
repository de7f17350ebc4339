package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chatdesk/server/common/infra/changefeed"
	commonlog "chatdesk/server/common/log"
	"chatdesk/server/dashboard/conversation"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
	"chatdesk/server/dashboard/repository"
)

const (
	DefaultInitialLoadTimeout = 10 * time.Second
	loadFetchTimeout          = time.Minute
	LoadErrorTimeout          = "timeout"
)

type SessionDeps struct {
	Contacts           ContactStore
	Messages           MessageStore
	Directory          Directory
	Feed               Feed
	Transfers          *TransferCoordinator
	Sender             *Sender
	Tags               *TagService
	Phones             phone.Normalizer
	InitialLoadTimeout time.Duration
}

type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notification tells listeners that the session state changed or that a
// toast should be shown.
type Notification struct {
	Type  string `json:"type"`
	Toast *Toast `json:"toast,omitempty"`
}

const (
	NotificationSnapshot = "snapshot"
	NotificationToast    = "toast"
)

// State is everything the dashboard renders for one operator.
type State struct {
	Version   int64                `json:"version"`
	Filter    domain.FilterMode    `json:"filter"`
	Contacts  []domain.ContactView `json:"contacts"`
	Open      *domain.ContactView  `json:"open,omitempty"`
	Pending   int                  `json:"pending"`
	Loading   bool                 `json:"loading"`
	LoadError string               `json:"load_error,omitempty"`
}

// Session is one operator's dashboard: a store, the reconciler writing into
// it, and the change-feed subscriptions feeding the reconciler.
type Session struct {
	op    Operator
	deps  SessionDeps
	store *Store
	rec   *Reconciler
	agg   conversation.Aggregator

	convMu sync.Mutex

	mu         sync.Mutex
	loading    bool
	loadErr    string
	closed     bool
	subs       []Subscription
	convSub    Subscription
	listeners  map[int]func(Notification)
	nextID     int
	unsubStore func()
}

func NewSession(op Operator, deps SessionDeps) *Session {
	if deps.InitialLoadTimeout <= 0 {
		deps.InitialLoadTimeout = DefaultInitialLoadTimeout
	}
	store := NewStore(deps.Phones)
	s := &Session{
		op:        op,
		deps:      deps,
		store:     store,
		rec:       NewReconciler(store, deps.Phones, op.Scope(op.DefaultMode()), deps.Contacts),
		agg:       conversation.Aggregator{Phones: deps.Phones},
		listeners: map[int]func(Notification){},
	}
	s.unsubStore = store.Subscribe(func(int64) {
		s.emit(Notification{Type: NotificationSnapshot})
	})
	return s
}

func (s *Session) Operator() Operator {
	return s.op
}

func (s *Session) Store() *Store {
	return s.store
}

// Subscribe registers fn for state and toast notifications. fn runs on the
// goroutine that caused the change and must not block.
func (s *Session) Subscribe(fn func(Notification)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(n Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]func(Notification), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (s *Session) toast(level, message string) {
	s.emit(Notification{Type: NotificationToast, Toast: &Toast{Level: level, Message: message}})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Open subscribes the session-wide change feeds and runs the initial load.
// The load is awaited for at most InitialLoadTimeout; after that the session
// stops reporting Loading and reports LoadErrorTimeout, while the fetch keeps
// running and still lands when it completes.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.loading = true
	s.loadErr = ""
	s.mu.Unlock()

	s.subscribeFeeds(ctx)

	done := make(chan error, 1)
	go func() {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadFetchTimeout)
		defer cancel()
		err := s.load(fetchCtx)
		s.finishLoad(err)
		done <- err
	}()

	timer := time.NewTimer(s.deps.InitialLoadTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		s.mu.Lock()
		if s.loading {
			s.loading = false
			s.loadErr = LoadErrorTimeout
		}
		s.mu.Unlock()
		commonlog.Warnf("event=session_load status=timeout user_id=%s company_id=%s timeout_ms=%d", s.op.UserID, s.op.CompanyID, s.deps.InitialLoadTimeout.Milliseconds())
		s.emit(Notification{Type: NotificationSnapshot})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) subscribeFeeds(ctx context.Context) {
	if s.deps.Feed == nil {
		return
	}
	for _, table := range []string{domain.TableContacts, domain.TableMessagesReceived, domain.TableMessagesSent} {
		sub, err := s.deps.Feed.Subscribe(ctx, s.op.CompanyID, table, changefeed.Filter{}, s.handleEvent)
		if err != nil {
			commonlog.Warnf("event=session_subscribe status=failed table=%s company_id=%s error=%v", table, s.op.CompanyID, err)
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sub.Close()
			return
		}
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
}

func (s *Session) handleEvent(payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		commonlog.Warnf("event=changefeed_decode status=failed error=%v", err)
		return
	}
	s.rec.Apply(ev)
}

// load fetches contacts, both message streams and the directory in parallel
// and installs them as one replacement.
func (s *Session) load(ctx context.Context) error {
	startedAt := time.Now()
	since := s.rec.Mark()
	var (
		contacts    []domain.Contact
		received    []domain.Message
		sent        []domain.Message
		departments []domain.Department
		sectors     []domain.Sector
	)
	companyID := s.op.CompanyID
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		contacts, err = s.deps.Contacts.ListContacts(gctx, companyID)
		return err
	})
	g.Go(func() (err error) {
		received, err = s.deps.Messages.ListMessages(gctx, domain.TableMessagesReceived, companyID)
		return err
	})
	g.Go(func() (err error) {
		sent, err = s.deps.Messages.ListMessages(gctx, domain.TableMessagesSent, companyID)
		return err
	})
	if s.deps.Directory != nil {
		g.Go(func() (err error) {
			departments, err = s.deps.Directory.Departments(gctx, companyID)
			return err
		})
		g.Go(func() (err error) {
			sectors, err = s.deps.Directory.Sectors(gctx, companyID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		commonlog.Errorf("event=session_load status=failed user_id=%s company_id=%s latency_ms=%d error=%v", s.op.UserID, companyID, time.Since(startedAt).Milliseconds(), err)
		return err
	}

	s.rec.SetDirectory(departments, sectors)
	s.rec.ReplaceAll(since, contacts, mergeStreams(received, sent))
	commonlog.Infof("event=session_load status=ok user_id=%s company_id=%s contacts=%d messages=%d latency_ms=%d", s.op.UserID, companyID, len(contacts), len(received)+len(sent), time.Since(startedAt).Milliseconds())
	return nil
}

func mergeStreams(received, sent []domain.Message) []domain.Message {
	all := make([]domain.Message, 0, len(received)+len(sent))
	for _, m := range received {
		m.IsOutbound = false
		all = append(all, m)
	}
	for _, m := range sent {
		m.IsOutbound = true
		all = append(all, m)
	}
	return all
}

func (s *Session) finishLoad(err error) {
	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.loadErr = err.Error()
	} else {
		s.loadErr = ""
	}
	s.mu.Unlock()
	s.emit(Notification{Type: NotificationSnapshot})
}

// Refresh re-reads everything. It is the manual retry after a failed load.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	err := s.load(ctx)
	s.finishLoad(err)
	return err
}

// SetFilter switches between "mine" and "all" and reloads under the new scope.
func (s *Session) SetFilter(ctx context.Context, mode domain.FilterMode) error {
	if s.rec.Scope().Mode == mode {
		return nil
	}
	s.rec.SetScope(s.op.Scope(mode))
	return s.Refresh(ctx)
}

// OpenConversation makes phone the open conversation. The previous
// conversation's transfer subscription is torn down before the new one is
// made, and the conversation is polled and marked viewed.
func (s *Session) OpenConversation(ctx context.Context, rawPhone string) error {
	key := s.deps.Phones.NormalizeForStorage(rawPhone)
	if key == "" {
		return invalid("Telefone inválido")
	}
	s.convMu.Lock()
	defer s.convMu.Unlock()
	if s.isClosed() {
		return ErrSessionClosed
	}

	s.dropConversationSub()
	s.rec.SetOpen(key)
	if err := s.PollConversation(ctx); err != nil {
		commonlog.Warnf("event=conversation_poll status=failed phone=%s error=%v", key, err)
	}

	if c, ok := s.store.ContactByPhone(key); ok && s.deps.Feed != nil {
		sub, err := s.deps.Feed.Subscribe(ctx, s.op.CompanyID, domain.TableTransfers, changefeed.Filter{Column: "contact_id", Value: c.ID}, s.handleEvent)
		if err != nil {
			commonlog.Warnf("event=conversation_subscribe status=failed contact_id=%s error=%v", c.ID, err)
		} else {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				sub.Close()
				return ErrSessionClosed
			}
			s.convSub = sub
			s.mu.Unlock()
		}
	}
	s.rec.MarkViewed(key)
	return nil
}

// CloseConversation leaves the open conversation.
func (s *Session) CloseConversation() {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	s.dropConversationSub()
	s.rec.SetOpen("")
}

func (s *Session) dropConversationSub() {
	s.mu.Lock()
	old := s.convSub
	s.convSub = nil
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// OpenPhone is the storage-form phone of the open conversation, or "".
func (s *Session) OpenPhone() string {
	return s.rec.Open()
}

// PollConversation re-reads the open conversation from the store. It is the
// safety net for change-feed events lost while disconnected.
func (s *Session) PollConversation(ctx context.Context) error {
	key := s.rec.Open()
	if key == "" || s.isClosed() {
		return nil
	}
	since := s.rec.Mark()
	variants := s.deps.Phones.Variants(key)
	var (
		received, sent []domain.Message
		contact        *domain.Contact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		received, err = s.deps.Messages.ListMessages(gctx, domain.TableMessagesReceived, s.op.CompanyID, variants...)
		return err
	})
	g.Go(func() (err error) {
		sent, err = s.deps.Messages.ListMessages(gctx, domain.TableMessagesSent, s.op.CompanyID, variants...)
		return err
	})
	g.Go(func() error {
		c, err := findContact(gctx, s.deps.Contacts, s.deps.Phones, s.op.CompanyID, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		contact = &c
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if s.rec.Open() != key {
		return nil
	}
	s.rec.ReplaceConversation(since, key, contact, mergeStreams(received, sent))
	return nil
}

// MarkViewed sets the conversation's viewed mark to its newest message.
func (s *Session) MarkViewed(rawPhone string) int64 {
	key := s.deps.Phones.NormalizeForStorage(rawPhone)
	ts, _ := s.rec.MarkViewed(key)
	return ts
}

func (s *Session) Contacts() []domain.ContactView {
	snap := s.store.Snapshot()
	return s.agg.Aggregate(snap.ContactList(), snap.MessageList(), snap.LastViewed, s.rec.Scope())
}

// Conversation returns the view of one phone, if its contact is visible.
func (s *Session) Conversation(rawPhone string) (domain.ContactView, bool) {
	key := s.deps.Phones.NormalizeForStorage(rawPhone)
	for _, v := range s.Contacts() {
		if v.PhoneNumber == key {
			return v, true
		}
	}
	return domain.ContactView{}, false
}

// Pending is the unread count of the open conversation.
func (s *Session) Pending() int {
	key := s.rec.Open()
	if key == "" {
		return 0
	}
	v, ok := s.Conversation(key)
	if !ok {
		return 0
	}
	return v.UnreadCount
}

func (s *Session) State() State {
	scope := s.rec.Scope()
	views := s.Contacts()
	st := State{Version: s.store.Version(), Filter: scope.Mode, Contacts: views}
	if key := s.rec.Open(); key != "" {
		for i := range views {
			if views[i].PhoneNumber == key {
				open := views[i]
				st.Open = &open
				st.Pending = open.UnreadCount
				break
			}
		}
	}
	s.mu.Lock()
	st.Loading = s.loading
	st.LoadError = s.loadErr
	s.mu.Unlock()
	return st
}

// Transfer moves a loaded contact to another department. On success the
// open conversation gets its banner and the operator a toast.
func (s *Session) Transfer(ctx context.Context, contactID string, req TransferRequest) (TransferResult, error) {
	if s.isClosed() {
		return TransferResult{}, ErrSessionClosed
	}
	contact, _ := s.store.Contact(contactID)
	snap := s.store.Snapshot()
	result, err := s.deps.Transfers.Transfer(ctx, contact, snap.Departments, req)
	if err != nil {
		s.toast("error", ToastMessage(err))
		return TransferResult{}, err
	}
	s.rec.AddBanner(result.Record)
	s.rec.UpsertContactLocal(result.Contact)
	s.toast("success", "Conversa transferida para "+snap.DepartmentName(req.ToDepartmentID))
	if result.Warning != "" {
		s.toast("warning", result.Warning)
	}
	return result, nil
}

func (s *Session) Send(ctx context.Context, req SendRequest) (domain.Message, error) {
	if s.isClosed() {
		return domain.Message{}, ErrSessionClosed
	}
	key := s.deps.Phones.NormalizeForStorage(req.Phone)
	if key == "" {
		key = s.rec.Open()
	}
	contact, _ := s.store.ContactByPhone(key)
	m, err := s.deps.Sender.Send(ctx, s.op, contact, s.store.Snapshot(), req)
	if err != nil {
		s.toast("error", ToastMessage(err))
		return domain.Message{}, err
	}
	s.rec.UpsertLocal(m)
	return m, nil
}

func (s *Session) UpdateTags(ctx context.Context, contactID string, tagIDs []string) (domain.Contact, error) {
	if s.isClosed() {
		return domain.Contact{}, ErrSessionClosed
	}
	contact, _ := s.store.Contact(contactID)
	updated, err := s.deps.Tags.UpdateTags(ctx, contact, tagIDs)
	if err != nil {
		s.toast("error", ToastMessage(err))
		return domain.Contact{}, err
	}
	s.rec.UpsertContactLocal(updated)
	s.toast("success", "Etiquetas atualizadas")
	return updated, nil
}

// Close tears down every subscription and stops all writes. Callbacks that
// were in flight have returned when Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	conv := s.convSub
	s.subs = nil
	s.convSub = nil
	s.listeners = map[int]func(Notification){}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	if conv != nil {
		conv.Close()
	}
	s.rec.Close()
	s.unsubStore()
}

func (s *Session) Closed() bool {
	return s.isClosed()
}
