package debate

import (
	"context"
	"fmt"
	"time"

	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/ratelimit"
	"github.com/hottake/debate-app/internal/session"
)

// SearchResult is the outcome of FindOpponent: either a new debate or a
// place in a waiting pool.
type SearchResult struct {
	Matched  bool
	DebateID string
	Position int
}

// FindOpponent pairs connID with the oldest compatible waiting connection of
// the requested pool, or enqueues it. An empty category selects the default
// pool; category pools need a privileged connection.
func (s *Service) FindOpponent(ctx context.Context, connID, category string) (SearchResult, error) {
	c, err := s.lookup(connID)
	if err != nil {
		return SearchResult{}, err
	}

	rec, err := s.guard.IsBanned(ctx, c.Identity())
	if err != nil {
		// Ban lookups fail open; a storage outage must not stop matchmaking.
		s.log.Warn().Str("conn", connID).Err(err).Msg("ban check failed")
	}
	if rec != nil {
		now := s.clock.Now()
		remaining := rec.Remaining(now)
		s.notify(connID, protocol.TypeBanned, banNotice(rec.Until, rec.Count, rec.Reasons, rec.Reason, remaining))
		return SearchResult{}, &BannedError{Until: rec.Until, Remaining: remaining, Reason: rec.Reason}
	}

	if err := s.allow(ctx, c.Identity(), "find_opponent", ratelimit.RuleFindOpponent); err != nil {
		return SearchResult{}, err
	}

	if category != "" {
		if !c.Privileged {
			return SearchResult{}, ErrNotAuthorized
		}
		if !s.catalog.HasCategory(category) {
			return SearchResult{}, ErrUnknownCategory
		}
	}

	var res SearchResult
	err = s.do(func(o *outbox) error {
		// Re-read under the lock: the connection may have changed since.
		c, ok := s.registry.Get(connID)
		if !ok {
			return ErrUnknownConnection
		}
		if c.DebateID != "" {
			return ErrAlreadyInSession
		}
		if s.queue.Contains(connID) {
			return ErrAlreadyQueued
		}

		now := s.clock.Now()
		for {
			waiting, found := s.queue.TakeCompatible(category, connID, c.Identity(), s.guard.Blocked)
			if !found {
				break
			}
			other, ok := s.registry.Get(waiting.ConnID)
			if !ok {
				continue
			}
			d, err := s.createDebateLocked(o, other, c, category, now)
			if err != nil {
				return err
			}
			metrics.MatchWait.Observe(now.Sub(waiting.EnqueuedAt).Seconds())
			o.publish(messaging.SubjectDebateMatched, messaging.MatchedEvent{
				DebateID:     d.ID,
				Topic:        d.Topic.Text,
				Category:     d.Category,
				Participant1: d.Participants[0].ConnID,
				Participant2: d.Participants[1].ConnID,
				WaitMillis:   now.Sub(waiting.EnqueuedAt).Milliseconds(),
				Ts:           now.UnixMilli(),
			})
			res = SearchResult{Matched: true, DebateID: d.ID}
			return nil
		}

		pos, err := s.queue.Enqueue(matching.Entry{
			ConnID:     connID,
			Identity:   c.Identity(),
			Name:       c.Name,
			Category:   category,
			EnqueuedAt: now,
		})
		if err != nil {
			return ErrAlreadyQueued
		}
		s.registry.SetStatus(connID, session.StatusSearching)
		o.send(connID, protocol.TypeSearching, protocol.SearchingMsg{
			Position: pos,
			Category: category,
			Timeout:  seconds(s.cfg.MatchTimeout),
		})
		res = SearchResult{Position: pos}
		return nil
	})
	return res, err
}

// CancelSearch removes connID from its waiting pool.
func (s *Service) CancelSearch(connID string) error {
	return s.do(func(o *outbox) error {
		c, ok := s.registry.Get(connID)
		if !ok {
			return ErrUnknownConnection
		}
		if _, ok := s.queue.Remove(connID); ok && c.DebateID == "" {
			s.registry.SetStatus(connID, session.StatusIdle)
		}
		o.send(connID, protocol.TypeSearchCancelled, protocol.SearchCancelledMsg{})
		return nil
	})
}

// createDebateLocked builds a debate between the waiting connection (slot 1)
// and the requester (slot 2) and notifies both.
func (s *Service) createDebateLocked(o *outbox, waiting, requester session.Connection, category string, now time.Time) (*Debate, error) {
	t, err := s.catalog.Random(category)
	if err != nil {
		return nil, fmt.Errorf("debate: draw topic: %w", err)
	}

	p1 := &Participant{ConnID: waiting.ID, Name: waiting.Name, Identity: waiting.Identity(), Connected: true, ResumeToken: s.newID()}
	p2 := &Participant{ConnID: requester.ID, Name: requester.Name, Identity: requester.Identity(), Connected: true, ResumeToken: s.newID()}
	if s.intn(2) == 0 {
		p1.Stance, p2.Stance = StanceFor, StanceAgainst
	} else {
		p1.Stance, p2.Stance = StanceAgainst, StanceFor
	}

	d := newDebate(s.newID(), t, category, p1, p2, now)
	first := d.Participants[s.intn(2)]
	d.CurrentSpeaker = first.ConnID
	d.LastFirstSpeaker = first.ConnID
	d.PhaseDuration = s.cfg.OpeningDuration

	requiresReady := isQueued(waiting) || isQueued(requester)
	for _, c := range []session.Connection{waiting, requester} {
		if c.Spectating != "" {
			if watched := s.store.Get(c.Spectating); watched != nil {
				s.leaveSpectatorLocked(o, watched, c.ID, true)
			}
		}
	}

	s.store.Put(d)
	s.registry.BindDebate(p1.ConnID, d.ID, p1.Stance)
	s.registry.BindDebate(p2.ConnID, d.ID, p2.Stance)
	metrics.MatchesTotal.Inc()

	if !requiresReady {
		d.Started = true
		s.scheduleLocked(d, s.cfg.OpeningDuration)
	}

	for _, p := range d.Participants {
		opp := d.Opponent(p.ConnID)
		o.send(p.ConnID, protocol.TypeDebateMatched, protocol.DebateMatchedMsg{
			DebateID:      d.ID,
			Topic:         d.Topic.Text,
			Category:      d.Category,
			Stance:        p.Stance,
			Slot:          p.Slot,
			OpponentID:    opp.ConnID,
			OpponentName:  opp.Name,
			FirstSpeaker:  first.ConnID,
			YouGoFirst:    first == p,
			Round:         d.Round,
			Phase:         string(d.Phase),
			PhaseDuration: seconds(s.cfg.OpeningDuration),
			RequiresReady: requiresReady,
			ResumeToken:   p.ResumeToken,
			ICEServers:    s.cfg.ICEServers,
		})
	}

	s.log.Info().Str("debate", d.ID).Str("p1", p1.ConnID).Str("p2", p2.ConnID).
		Str("category", category).Bool("ready_gate", requiresReady).Msg("debate created")
	return d, nil
}

// MarkReady records that connID is ready. The debate starts once both
// participants are ready; started reports whether it is running.
func (s *Service) MarkReady(debateID, connID string) (started bool, err error) {
	err = s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		p := d.Participant(connID)
		if p == nil {
			return ErrNotAuthorized
		}
		if d.GraceFor != "" {
			return ErrOpponentUnresolvable
		}
		p.Ready = true
		d.LastActivity = s.clock.Now()
		if !d.Started && d.Participants[0].Ready && d.Participants[1].Ready {
			d.Started = true
			s.enterPhaseLocked(d, PhaseOpening, d.CurrentSpeaker, s.cfg.OpeningDuration)
			s.broadcastLocked(o, d, protocol.TypeTurnChange, protocol.TurnChangeMsg{
				DebateID:       d.ID,
				Phase:          string(d.Phase),
				Round:          d.Round,
				CurrentSpeaker: d.CurrentSpeaker,
				Duration:       seconds(s.cfg.OpeningDuration),
			})
			s.log.Info().Str("debate", d.ID).Msg("debate started after ready gate")
		}
		started = d.Started
		return nil
	})
	return started, err
}

func isQueued(c session.Connection) bool {
	return c.Transport != nil && c.Transport.Kind() == session.TransportQueued
}

func banNotice(until time.Time, count int, reasons []string, reason string, remaining time.Duration) protocol.BannedMsg {
	if reasons == nil {
		reasons = []string{}
	}
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	return protocol.BannedMsg{
		Reason:          reason,
		BannedUntil:     until.UnixMilli(),
		ReportCount:     count,
		Reasons:         reasons,
		TimeLeftMinutes: minutes,
	}
}
