// Package changefeed delivers per-table row change notifications over redis
// pub/sub. Each company and table pair has its own channel; subscribers may
// narrow a channel further with a column-equality filter.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	commonlog "chatdesk/server/common/log"
)

func Channel(companyID, table string) string {
	return fmt.Sprintf("company:%s:table:%s", strings.TrimSpace(companyID), table)
}

// Filter keeps only events whose row has Column equal to Value. The zero
// Filter matches everything.
type Filter struct {
	Column string
	Value  string
}

func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Match reports whether payload, a JSON envelope with "new" and "old" rows,
// satisfies the filter. The new row is checked first, then the old one so
// deletes still reach filtered subscribers.
func (f Filter) Match(payload []byte) bool {
	if f.IsZero() {
		return true
	}
	var env struct {
		New map[string]json.RawMessage `json:"new"`
		Old map[string]json.RawMessage `json:"old"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	for _, row := range []map[string]json.RawMessage{env.New, env.Old} {
		if raw, ok := row[f.Column]; ok && columnText(raw) == f.Value {
			return true
		}
	}
	return false
}

func columnText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

type Handler func(payload []byte)

type Feed struct {
	client *redis.Client
}

func New(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func (f *Feed) Publish(ctx context.Context, companyID, table string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, Channel(companyID, table), b).Err()
}

// Subscribe starts delivering matching events to fn on a dedicated goroutine.
// It returns once redis has confirmed the subscription.
func (f *Feed) Subscribe(ctx context.Context, companyID, table string, filter Filter, fn Handler) (*Subscription, error) {
	channel := Channel(companyID, table)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	go sub.consume(subCtx, channel, filter, fn)
	return sub, nil
}

type Subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) consume(ctx context.Context, channel string, filter Filter, fn Handler) {
	defer close(s.done)
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				commonlog.Warnf("event=changefeed_receive status=stopped channel=%s error=%v", channel, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		payload := []byte(msg.Payload)
		if !filter.Match(payload) {
			continue
		}
		fn(payload)
	}
}

// Close stops delivery and waits for an in-flight handler to return, so no
// handler runs after Close. It must not be called from inside the handler.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
		<-s.done
	})
}
