package debate

import (
	"context"
	"time"

	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/session"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Expired   int // searches that ran past the match timeout
	Idle      int // debates ended for inactivity
	Abandoned int // polling connections that stopped polling
	Stores    int // entries dropped by the registered sweepers
}

// Sweep expires stale searches, ends idle debates and drops abandoned polling
// connections. It then runs the housekeeping of the registered stores.
func (s *Service) Sweep() SweepResult {
	var res SweepResult
	_ = s.do(func(o *outbox) error {
		now := s.clock.Now()

		if s.cfg.MatchTimeout > 0 {
			for _, e := range s.queue.Expire(now.Add(-s.cfg.MatchTimeout)) {
				s.registry.SetStatus(e.ConnID, session.StatusIdle)
				o.send(e.ConnID, protocol.TypeMatchTimeout, protocol.MatchTimeoutMsg{})
				res.Expired++
			}
		}

		if s.cfg.IdleTimeout > 0 {
			cutoff := now.Add(-s.cfg.IdleTimeout)
			for _, d := range s.store.Recent() {
				if d.LastActivity.Before(cutoff) {
					s.endLocked(o, d, ending{reason: ReasonIdle})
					res.Idle++
				}
			}
		}

		if s.cfg.PollIdleTimeout > 0 {
			for _, id := range s.registry.IdleQueued(now.Add(-s.cfg.PollIdleTimeout)) {
				s.disconnectLocked(o, id)
				res.Abandoned++
			}
		}
		return nil
	})

	for _, sw := range s.sweepers {
		res.Stores += sw.Sweep()
	}
	if res != (SweepResult{}) {
		s.log.Debug().Int("expired", res.Expired).Int("idle", res.Idle).
			Int("abandoned", res.Abandoned).Int("stores", res.Stores).Msg("sweep")
	}
	return res
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
