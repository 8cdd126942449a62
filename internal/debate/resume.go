package debate

import (
	"time"

	"github.com/hottake/debate-app/internal/protocol"
)

// participantDroppedLocked handles a participant that went away. Without a
// grace period, or when the opponent is already gone, the debate is torn down
// at once; otherwise the phase timer is paused and the debate waits for a
// resume_debate from a new connection.
func (s *Service) participantDroppedLocked(o *outbox, d *Debate, connID string, allowGrace bool) {
	p := d.Participant(connID)
	if p == nil {
		return
	}
	opp := d.Opponent(connID)

	if !allowGrace || s.cfg.DisconnectGrace <= 0 || !opp.Connected {
		s.endLocked(o, d, ending{reason: ReasonOpponentDisconnected, dropped: connID})
		return
	}

	now := s.clock.Now()
	p.Connected = false
	d.pausedRemaining = d.Remaining(now)
	d.GraceFor = connID
	d.SkipRequestedBy = ""
	d.LastActivity = now
	s.scheduleLocked(d, s.cfg.DisconnectGrace)

	o.send(opp.ConnID, protocol.TypeOpponentDisconnected, protocol.OpponentDisconnectedMsg{
		DebateID:     d.ID,
		GraceSeconds: seconds(s.cfg.DisconnectGrace),
	})
	s.log.Info().Str("debate", d.ID).Str("conn", connID).Dur("grace", s.cfg.DisconnectGrace).Msg("participant dropped, holding debate")
}

// Resume rebinds a dropped participant's seat to connID. token is the
// resume_token the participant received in debate_matched (or in its last
// debate_resumed).
func (s *Service) Resume(connID, debateID, token string) error {
	return s.do(func(o *outbox) error {
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
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.GraceFor == "" {
			return ErrNotAuthorized
		}
		p := d.Participant(d.GraceFor)
		if p == nil || token == "" || p.ResumeToken != token {
			return ErrNotAuthorized
		}

		if c.Spectating != "" {
			if watched := s.store.Get(c.Spectating); watched != nil {
				s.leaveSpectatorLocked(o, watched, connID, true)
			}
		}

		old := p.ConnID
		p.ConnID = connID
		p.Identity = c.Identity()
		p.Connected = true
		p.ResumeToken = s.newID()
		if c.Name != "" {
			p.Name = c.Name
		}
		if d.CurrentSpeaker == old {
			d.CurrentSpeaker = connID
		}
		if d.LastFirstSpeaker == old {
			d.LastFirstSpeaker = connID
		}
		d.GraceFor = ""
		s.registry.BindDebate(connID, d.ID, p.Stance)

		now := s.clock.Now()
		d.LastActivity = now
		if d.Started {
			// Restart the paused phase with what was left of it.
			d.PhaseStartedAt = now.Add(-(d.PhaseDuration - d.pausedRemaining))
			s.scheduleLocked(d, max(d.pausedRemaining, time.Millisecond))
		} else {
			s.scheduleLocked(d, 0)
		}
		d.pausedRemaining = 0

		o.send(connID, protocol.TypeDebateResumed, protocol.DebateResumedMsg{
			Debate:      d.View(now),
			Stance:      p.Stance,
			ResumeToken: p.ResumeToken,
		})
		opp := d.Opponent(connID)
		o.send(opp.ConnID, protocol.TypeOpponentReconnected, protocol.OpponentReconnectedMsg{DebateID: d.ID})
		s.log.Info().Str("debate", d.ID).Str("old", old).Str("conn", connID).Msg("participant resumed")
		return nil
	})
}
