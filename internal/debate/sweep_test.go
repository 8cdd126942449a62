package debate

import (
	"context"
	"testing"
	"time"

	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/session"
)

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() int {
	c.calls++
	return 2
}

func TestSweep_ExpiresSearches(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("a", "b")
	ctx := context.Background()

	if _, err := h.svc.FindOpponent(ctx, "a", ""); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(20 * time.Second)
	if res := h.svc.Sweep(); res.Expired != 0 {
		t.Fatalf("search expired early: %+v", res)
	}

	h.clock.Advance(11 * time.Second)
	res := h.svc.Sweep()
	if res.Expired != 1 {
		t.Fatalf("expected one expired search, got %+v", res)
	}
	if h.notes.count("a", protocol.TypeMatchTimeout) != 1 {
		t.Error("expected match_timeout")
	}
	if c, _ := h.registry.Get("a"); c.Status != session.StatusIdle {
		t.Errorf("expected idle, got %q", c.Status)
	}
	if got, err := h.svc.FindOpponent(ctx, "b", ""); err != nil || got.Matched {
		t.Errorf("expired search must not match, got %+v, %v", got, err)
	}
}

func TestSweep_EndsIdleDebates(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.IdleTimeout = 30 * time.Second })
	h.connect("a", "b", "c", "d")
	idle := h.match("a", "b")

	h.clock.Advance(20 * time.Second)
	active := h.match("c", "d")
	h.clock.Advance(11 * time.Second)

	res := h.svc.Sweep()
	if res.Idle != 1 {
		t.Fatalf("expected one idle debate, got %+v", res)
	}
	if _, err := h.svc.Get(idle); err == nil {
		t.Error("idle debate should be gone")
	}
	if _, err := h.svc.Get(active); err != nil {
		t.Errorf("active debate should survive, got %v", err)
	}
	p, ok := h.notes.last("a", protocol.TypeDebateEnded)
	if !ok || p.(protocol.DebateEndedMsg).Reason != ReasonIdle {
		t.Errorf("expected idle debate_ended, got %v", p)
	}
}

func TestSweep_RunsStoreSweepers(t *testing.T) {
	sw := &countingSweeper{}
	h := newHarness(t, nil)
	h.svc.sweepers = []Sweeper{sw, sw}

	res := h.svc.Sweep()
	if sw.calls != 2 || res.Stores != 4 {
		t.Errorf("expected both sweepers to run, got calls=%d %+v", sw.calls, res)
	}
}
