package service

import (
	"context"
	"sync"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
)

type hubEntry struct {
	session *Session
	refs    int
	ready   chan struct{}
	done    bool
}

// Hub shares one Session per operator between that operator's websocket
// connections and REST calls. All holders see the same open conversation and
// filter, so a second tab mirrors the first. The session is closed when the
// last holder releases it.
type Hub struct {
	deps   SessionDeps
	poller *Poller

	mu       sync.Mutex
	sessions map[string]*hubEntry
}

func NewHub(deps SessionDeps, poller *Poller) *Hub {
	return &Hub{deps: deps, poller: poller, sessions: map[string]*hubEntry{}}
}

// Acquire returns the operator's session, opening it on first use. The
// returned release func must be called exactly once.
func (h *Hub) Acquire(ctx context.Context, op Operator) (*Session, func(), error) {
	key := op.CompanyID + ":" + op.UserID

	h.mu.Lock()
	entry, ok := h.sessions[key]
	if ok {
		entry.refs++
		h.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			h.release(key, entry)
			return nil, nil, ctx.Err()
		}
		return entry.session, h.releaser(key, entry), nil
	}
	entry = &hubEntry{session: NewSession(op, h.deps), refs: 1, ready: make(chan struct{})}
	h.sessions[key] = entry
	h.mu.Unlock()

	metrics.SessionsActive.Inc()
	if err := entry.session.Open(ctx); err != nil {
		commonlog.Warnf("event=session_open status=degraded user_id=%s company_id=%s error=%v", op.UserID, op.CompanyID, err)
	}
	if h.poller != nil {
		h.poller.Add(entry.session)
	}
	close(entry.ready)
	return entry.session, h.releaser(key, entry), nil
}

func (h *Hub) releaser(key string, entry *hubEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() { h.release(key, entry) })
	}
}

func (h *Hub) release(key string, entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	if entry.refs > 0 || entry.done {
		h.mu.Unlock()
		return
	}
	entry.done = true
	if h.sessions[key] == entry {
		delete(h.sessions, key)
	}
	h.mu.Unlock()

	<-entry.ready
	if h.poller != nil {
		h.poller.Remove(entry.session)
	}
	entry.session.Close()
	metrics.SessionsActive.Dec()
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close releases every session regardless of holders.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := make([]*hubEntry, 0, len(h.sessions))
	for key, e := range h.sessions {
		e.done = true
		entries = append(entries, e)
		delete(h.sessions, key)
	}
	h.mu.Unlock()
	for _, e := range entries {
		<-e.ready
		if h.poller != nil {
			h.poller.Remove(e.session)
		}
		e.session.Close()
		metrics.SessionsActive.Dec()
	}
}
