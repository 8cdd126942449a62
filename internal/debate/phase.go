package debate

import (
	"time"

	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/protocol"
)

// scheduleLocked replaces the debate's timer. Every call bumps timerSeq so a
// callback that lost the race with a newer transition does nothing.
func (s *Service) scheduleLocked(d *Debate, after time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerSeq++
	if after <= 0 {
		return
	}
	id, seq, phase := d.ID, d.timerSeq, d.Phase
	d.timer = s.clock.AfterFunc(after, func() {
		s.onTimer(id, seq, phase)
	})
}

func (s *Service) onTimer(debateID string, seq uint64, phase Phase) {
	_ = s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil || d.timerSeq != seq || d.Phase != phase {
			return nil
		}
		d.timer = nil

		if d.GraceFor != "" {
			s.log.Info().Str("debate", d.ID).Str("conn", d.GraceFor).Msg("resume grace expired")
			s.endLocked(o, d, ending{reason: ReasonOpponentLeft})
			return nil
		}

		switch d.Phase {
		case PhaseOpening:
			s.toResponseLocked(o, d)
		case PhaseResponse:
			s.toOpenDebateLocked(o, d)
		case PhaseOpenDebate:
			s.nextRoundLocked(o, d)
		}
		return nil
	})
}

// enterPhaseLocked switches phase and arms the phase timer.
func (s *Service) enterPhaseLocked(d *Debate, phase Phase, speaker string, duration time.Duration) {
	now := s.clock.Now()
	d.Phase = phase
	d.CurrentSpeaker = speaker
	d.PhaseStartedAt = now
	d.PhaseDuration = duration
	d.LastActivity = now
	s.scheduleLocked(d, duration)
}

func (s *Service) toResponseLocked(o *outbox, d *Debate) {
	next := d.Opponent(d.LastFirstSpeaker)
	s.enterPhaseLocked(d, PhaseResponse, next.ConnID, s.cfg.ResponseDuration)
	s.broadcastLocked(o, d, protocol.TypeTurnChange, protocol.TurnChangeMsg{
		DebateID:       d.ID,
		Phase:          string(d.Phase),
		Round:          d.Round,
		CurrentSpeaker: d.CurrentSpeaker,
		Duration:       seconds(s.cfg.ResponseDuration),
	})
}

func (s *Service) toOpenDebateLocked(o *outbox, d *Debate) {
	s.enterPhaseLocked(d, PhaseOpenDebate, "", s.cfg.OpenDebateDuration)
	s.broadcastLocked(o, d, protocol.TypeOpenDebateStart, protocol.OpenDebateStartMsg{
		DebateID: d.ID,
		Round:    d.Round,
		Duration: seconds(s.cfg.OpenDebateDuration),
	})
	if d.SpectatorCount() > 0 {
		s.toSpectatorsLocked(o, d, protocol.TypeVotingStart, protocol.VotingStartMsg{
			DebateID: d.ID,
			Round:    d.Round,
			Duration: seconds(s.cfg.VotingDuration),
		})
	}
}

// nextRoundLocked draws a new topic and restarts at opening with the speaking
// order flipped.
func (s *Service) nextRoundLocked(o *outbox, d *Debate) {
	d.Phase = PhaseTransitioning
	s.scheduleLocked(d, 0)

	if t, err := s.catalog.Random(d.Category); err == nil {
		d.Topic = t
	} else {
		s.log.Warn().Str("debate", d.ID).Err(err).Msg("topic draw failed, keeping topic")
	}
	first := d.Opponent(d.LastFirstSpeaker)
	d.LastFirstSpeaker = first.ConnID
	d.Round++
	d.votes = make(map[string]string)
	d.SkipRequestedBy = ""
	d.LastTopicAt = s.clock.Now()

	s.enterPhaseLocked(d, PhaseOpening, first.ConnID, s.cfg.OpeningDuration)
	s.broadcastLocked(o, d, protocol.TypeTopicChanged, protocol.TopicChangedMsg{
		DebateID:     d.ID,
		Topic:        d.Topic.Text,
		Category:     d.Category,
		Round:        d.Round,
		Phase:        string(d.Phase),
		FirstSpeaker: first.ConnID,
		Duration:     seconds(s.cfg.OpeningDuration),
	})
}

// TurnCompleted advances opening to response and response to open-debate.
// Only the current speaker may advance. Within the debounce window after an
// accepted turn, a repeat from its sender and a turn from the new speaker
// are both absorbed without error.
func (s *Service) TurnCompleted(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.Participant(connID) == nil || !d.Started {
			return ErrNotAuthorized
		}
		if d.GraceFor != "" {
			return ErrOpponentUnresolvable
		}

		switch d.Phase {
		case PhaseOpenDebate, PhaseTransitioning:
			return nil
		}
		now := s.clock.Now()
		debounced := !d.lastTurnAt.IsZero() && now.Sub(d.lastTurnAt) < s.cfg.TurnDebounce
		if debounced && connID == d.lastTurnBy {
			return nil
		}
		if connID != d.CurrentSpeaker {
			return ErrNotAuthorized
		}
		if debounced {
			return nil
		}

		d.lastTurnAt = now
		d.lastTurnBy = connID
		switch d.Phase {
		case PhaseOpening:
			s.toResponseLocked(o, d)
		case PhaseResponse:
			s.toOpenDebateLocked(o, d)
		}
		return nil
	})
}

// RequestNewTopic moves an open debate to the next round early.
func (s *Service) RequestNewTopic(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.Participant(connID) == nil {
			return ErrNotAuthorized
		}
		if s.clock.Now().Sub(d.LastTopicAt) < s.cfg.TopicDebounce {
			return nil
		}
		if !d.Started || d.Phase != PhaseOpenDebate {
			return ErrNotAuthorized
		}
		if d.GraceFor != "" {
			return ErrOpponentUnresolvable
		}
		s.nextRoundLocked(o, d)
		return nil
	})
}

// SkipTopicRequest asks the opponent to agree to a new topic.
func (s *Service) SkipTopicRequest(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.Participant(connID) == nil {
			return ErrNotAuthorized
		}
		opp := d.Opponent(connID)
		if !opp.Connected {
			return ErrOpponentUnresolvable
		}
		if d.SkipRequestedBy != "" {
			return nil
		}
		d.SkipRequestedBy = connID
		d.LastActivity = s.clock.Now()
		o.send(opp.ConnID, protocol.TypeSkipTopicRequested, protocol.SkipTopicMsg{DebateID: d.ID, From: connID})
		o.send(connID, protocol.TypeSkipTopicSent, protocol.SkipTopicMsg{DebateID: d.ID})
		return nil
	})
}

// SkipTopicResponse answers the opponent's pending skip request. Acceptance
// starts the next round; a decline only informs the requester.
func (s *Service) SkipTopicResponse(debateID, connID string, accepted bool) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.Participant(connID) == nil {
			return ErrNotAuthorized
		}
		requester := d.SkipRequestedBy
		if requester == "" || requester == connID {
			return ErrNotAuthorized
		}
		d.SkipRequestedBy = ""
		d.LastActivity = s.clock.Now()

		if !accepted {
			o.send(requester, protocol.TypeSkipTopicDeclined, protocol.SkipTopicMsg{DebateID: d.ID, From: connID})
			return nil
		}
		s.toParticipantsLocked(o, d, protocol.TypeTopicSkipped, protocol.SkipTopicMsg{DebateID: d.ID, From: connID})
		s.nextRoundLocked(o, d)
		return nil
	})
}

// EndDebate lets a participant terminate the debate.
func (s *Service) EndDebate(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if d.Participant(connID) == nil {
			return ErrNotAuthorized
		}
		s.endLocked(o, d, ending{reason: ReasonEnded, endedBy: connID})
		return nil
	})
}

// ending describes how a debate is torn down. When dropped is set, that
// participant is gone and its opponent gets opponent_disconnected instead of
// debate_ended.
type ending struct {
	reason  string
	endedBy string
	dropped string
}

// endLocked notifies everyone attached to d, releases their bindings and
// deletes d together with its timer.
func (s *Service) endLocked(o *outbox, d *Debate, e ending) {
	now := s.clock.Now()
	ended := protocol.DebateEndedMsg{
		DebateID: d.ID,
		Reason:   e.reason,
		EndedBy:  e.endedBy,
		Votes:    d.Tally(),
	}

	for _, p := range d.Participants {
		if p.ConnID == e.dropped || !p.Connected {
			continue
		}
		if e.dropped != "" {
			o.send(p.ConnID, protocol.TypeOpponentDisconnected, protocol.OpponentDisconnectedMsg{DebateID: d.ID})
		} else {
			o.send(p.ConnID, protocol.TypeDebateEnded, ended)
		}
		s.registry.ClearDebate(p.ConnID)
	}
	for _, id := range d.SpectatorIDs() {
		o.send(id, protocol.TypeDebateEnded, ended)
		s.registry.SetSpectating(id, "")
	}

	rounds := d.Round
	s.store.Delete(d.ID)
	metrics.DebatesEnded.WithLabelValues(e.reason).Inc()
	o.publish(messaging.SubjectDebateEnded, messaging.EndedEvent{
		DebateID:        d.ID,
		Reason:          e.reason,
		Rounds:          rounds,
		DurationSeconds: int(now.Sub(d.StartedAt).Seconds()),
		Ts:              now.UnixMilli(),
	})
	s.log.Info().Str("debate", d.ID).Str("reason", e.reason).Int("rounds", rounds).Msg("debate ended")
}
