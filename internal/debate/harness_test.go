package debate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hottake/debate-app/internal/ban"
	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/session"
	"github.com/hottake/debate-app/internal/topic"
)

// manualClock fires timers only when Advance moves past their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Callbacks run without the clock lock so they can schedule new timers.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// pending counts armed timers.
func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type sentFrame struct {
	conn    string
	msgType string
	payload interface{}
}

// fakeNotifier records every frame instead of delivering it.
type fakeNotifier struct {
	mu     sync.Mutex
	frames []sentFrame
	closed map[string]int
	broken map[string]bool // sends to these fail
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{closed: make(map[string]int), broken: make(map[string]bool)}
}

func (n *fakeNotifier) Send(connID, msgType string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.broken[connID] {
		return fmt.Errorf("send to %s: connection broken", connID)
	}
	n.frames = append(n.frames, sentFrame{conn: connID, msgType: msgType, payload: payload})
	return nil
}

func (n *fakeNotifier) Close(connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed[connID]++
}

func (n *fakeNotifier) count(conn, msgType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, f := range n.frames {
		if f.conn == conn && f.msgType == msgType {
			c++
		}
	}
	return c
}

// last returns the payload of the most recent frame of msgType sent to conn.
func (n *fakeNotifier) last(conn, msgType string) (interface{}, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.frames) - 1; i >= 0; i-- {
		f := n.frames[i]
		if f.conn == conn && f.msgType == msgType {
			return f.payload, true
		}
	}
	return nil, false
}

func (n *fakeNotifier) closes(conn string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed[conn]
}

type stubTransport struct{ kind session.TransportKind }

func (s stubTransport) Kind() session.TransportKind { return s.kind }
func (s stubTransport) Deliver([]byte) error        { return nil }
func (s stubTransport) Close() error                { return nil }

type harness struct {
	t        *testing.T
	svc      *Service
	clock    *manualClock
	notes    *fakeNotifier
	registry *session.Registry
	queue    *matching.Queue
	guard    *moderation.Guard
}

var testTopics = []topic.Topic{
	{Text: "Cats are better than dogs", Category: "pets"},
	{Text: "Pineapple belongs on pizza", Category: "food"},
	{Text: "Remote work beats the office", Category: "work"},
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()
	clock := newManualClock()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:        t,
		clock:    clock,
		notes:    newFakeNotifier(),
		registry: session.NewRegistry(),
		queue:    matching.NewQueue(),
		guard: moderation.NewGuardWithClock(
			ban.NewMemoryStoreWithClock(clock.Now), moderation.DefaultGuardConfig(), clock.Now),
	}
	h.svc = NewService(cfg, Deps{
		Registry: h.registry,
		Queue:    h.queue,
		Catalog:  topic.NewCatalog(testTopics),
		Guard:    h.guard,
		Notifier: h.notes,
		Clock:    clock,
	})
	// Slot 1 argues for and speaks first.
	h.svc.intn = func(int) int { return 0 }
	var seq atomic.Int64
	h.svc.newID = func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }
	return h
}

func (h *harness) connect(ids ...string) {
	h.t.Helper()
	for _, id := range ids {
		if err := h.svc.Connect(id, "user "+id, stubTransport{session.TransportLive}); err != nil {
			h.t.Fatalf("Connect(%s) error: %v", id, err)
		}
	}
}

func (h *harness) connectQueued(id string) {
	h.t.Helper()
	if err := h.svc.Connect(id, "user "+id, stubTransport{session.TransportQueued}); err != nil {
		h.t.Fatalf("Connect(%s) error: %v", id, err)
	}
}

// match pairs two connected ids and returns the debate id. a waits, b joins.
func (h *harness) match(a, b string) string {
	h.t.Helper()
	ctx := context.Background()
	res, err := h.svc.FindOpponent(ctx, a, "")
	if err != nil || res.Matched {
		h.t.Fatalf("FindOpponent(%s) = %+v, %v", a, res, err)
	}
	res, err = h.svc.FindOpponent(ctx, b, "")
	if err != nil || !res.Matched {
		h.t.Fatalf("FindOpponent(%s) = %+v, %v", b, res, err)
	}
	return res.DebateID
}

func (h *harness) debate(id string) *Debate {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	return h.svc.store.Get(id)
}

func (h *harness) phase(id string) PhaseStatus {
	h.t.Helper()
	st, err := h.svc.Phase(id)
	if err != nil {
		h.t.Fatalf("Phase(%s) error: %v", id, err)
	}
	return st
}

func (h *harness) matched(conn string) protocol.DebateMatchedMsg {
	h.t.Helper()
	p, ok := h.notes.last(conn, protocol.TypeDebateMatched)
	if !ok {
		h.t.Fatalf("%s: no debate_matched frame", conn)
	}
	return p.(protocol.DebateMatchedMsg)
}
