package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
)

const (
	DefaultPollInterval = 3 * time.Second
	pollConcurrency     = 8
)

type conversationPoller interface {
	OpenPhone() string
	PollConversation(ctx context.Context) error
}

// Poller re-reads the open conversation of every registered session on a
// fixed interval. A tick that overruns makes the next one skip.
type Poller struct {
	cron     *cron.Cron
	interval time.Duration

	mu       sync.Mutex
	sessions map[conversationPoller]struct{}
}

func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cron.PrintfLogger(commonlog.Printf{})
	return &Poller{
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		interval: interval,
		sessions: map[conversationPoller]struct{}{},
	}
}

func (p *Poller) Start() error {
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), p.Tick); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running tick.
func (p *Poller) Stop(ctx context.Context) {
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (p *Poller) Add(s conversationPoller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s] = struct{}{}
}

func (p *Poller) Remove(s conversationPoller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, s)
}

// Tick polls every session that has a conversation open.
func (p *Poller) Tick() {
	p.mu.Lock()
	targets := make([]conversationPoller, 0, len(p.sessions))
	for s := range p.sessions {
		if s.OpenPhone() != "" {
			targets = append(targets, s)
		}
	}
	p.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	startedAt := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.interval*2)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for _, s := range targets {
		g.Go(func() error {
			if err := s.PollConversation(ctx); err != nil {
				commonlog.Warnf("event=conversation_poll status=failed phone=%s error=%v", s.OpenPhone(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.PollDuration.Observe(time.Since(startedAt).Seconds())
}
