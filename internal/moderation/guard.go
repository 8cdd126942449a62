package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hottake/debate-app/internal/ban"
)

// BanNotice is the reason attached to automatic bans.
const BanNotice = "Multiple reports received"

// GuardConfig tunes the automatic ban policy.
type GuardConfig struct {
	Threshold   int           // reports inside Window that trigger a ban
	Window      time.Duration // trailing report window
	BanDuration time.Duration // length of an automatic ban
}

// DefaultGuardConfig returns the 3-reports-in-24h, 24h-ban policy.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Threshold:   3,
		Window:      24 * time.Hour,
		BanDuration: 24 * time.Hour,
	}
}

// ReportRecord is one report filed against an identity.
type ReportRecord struct {
	Reporter string
	Reason   string
	At       time.Time
}

// ReportOutcome is the result of Guard.Report. Ban is non-nil when this
// report triggered a ban.
type ReportOutcome struct {
	Count int
	Ban   *ban.Record
}

// Guard tracks reports, bans and blocks by moderation identity. Report
// history and block relations live in memory; ban records live in the
// configured ban.Store.
type Guard struct {
	cfg  GuardConfig
	bans ban.Store
	now  func() time.Time

	mu      sync.Mutex
	reports map[string][]ReportRecord
	blocks  map[string]map[string]struct{} // blocker -> blocked set
}

// NewGuard creates a Guard on the wall clock.
func NewGuard(bans ban.Store, cfg GuardConfig) *Guard {
	return NewGuardWithClock(bans, cfg, time.Now)
}

// NewGuardWithClock creates a Guard that reads time from now.
func NewGuardWithClock(bans ban.Store, cfg GuardConfig, now func() time.Time) *Guard {
	return &Guard{
		cfg:     cfg,
		bans:    bans,
		now:     now,
		reports: make(map[string][]ReportRecord),
		blocks:  make(map[string]map[string]struct{}),
	}
}

// Report records a report against target and bans target when the number of
// reports inside the trailing window reaches the threshold. A new ban
// overwrites any existing one.
func (g *Guard) Report(ctx context.Context, target, reporter, reason string) (ReportOutcome, error) {
	now := g.now()

	g.mu.Lock()
	recent := g.pruneLocked(target, now)
	recent = append(recent, ReportRecord{Reporter: reporter, Reason: reason, At: now})
	g.reports[target] = recent
	count := len(recent)
	var reasons []string
	if count >= g.cfg.Threshold {
		reasons = make([]string, 0, count)
		for _, r := range recent {
			reasons = append(reasons, r.Reason)
		}
	}
	g.mu.Unlock()

	out := ReportOutcome{Count: count}
	if reasons == nil {
		return out, nil
	}

	rec := ban.Record{
		Until:   now.Add(g.cfg.BanDuration),
		Count:   count,
		Reasons: reasons,
		Reason:  BanNotice,
	}
	if err := g.bans.Put(ctx, target, rec); err != nil {
		return out, fmt.Errorf("moderation: store ban: %w", err)
	}
	out.Ban = &rec
	return out, nil
}

// IsBanned returns the active ban for target, or nil. Lapsed bans are
// expired by the store on read.
func (g *Guard) IsBanned(ctx context.Context, target string) (*ban.Record, error) {
	rec, err := g.bans.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("moderation: ban lookup: %w", err)
	}
	return rec, nil
}

// ReportCount returns the number of reports against target inside the window.
func (g *Guard) ReportCount(target string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pruneLocked(target, g.now()))
}

// Block records that blocker does not want to be paired with blocked.
func (g *Guard) Block(blocker, blocked string) {
	if blocker == "" || blocked == "" || blocker == blocked {
		return
	}
	g.mu.Lock()
	set, ok := g.blocks[blocker]
	if !ok {
		set = make(map[string]struct{})
		g.blocks[blocker] = set
	}
	set[blocked] = struct{}{}
	g.mu.Unlock()
}

// Blocked reports whether either identity has blocked the other.
func (g *Guard) Blocked(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blocks[a][b]; ok {
		return true
	}
	_, ok := g.blocks[b][a]
	return ok
}

// Forget drops every block relation naming identity and the reports filed
// against it. It is called when an identity that cannot reappear (a bare
// connection ID) goes away.
func (g *Guard) Forget(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocks, identity)
	for blocker, set := range g.blocks {
		delete(set, identity)
		if len(set) == 0 {
			delete(g.blocks, blocker)
		}
	}
	delete(g.reports, identity)
}

// Sweep prunes report history that fell out of the window and returns the
// number of identities whose history was emptied.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	emptied := 0
	for target := range g.reports {
		if len(g.pruneLocked(target, now)) == 0 {
			emptied++
		}
	}
	return emptied
}

// pruneLocked drops reports older than the window and returns what is left.
func (g *Guard) pruneLocked(target string, now time.Time) []ReportRecord {
	list := g.reports[target]
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for i < len(list) && !list[i].At.After(cutoff) {
		i++
	}
	if i == len(list) {
		delete(g.reports, target)
		return nil
	}
	if i > 0 {
		list = append([]ReportRecord(nil), list[i:]...)
		g.reports[target] = list
	}
	return list
}
