package debate

import (
	"context"
	"fmt"

	"github.com/hottake/debate-app/internal/chat"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/ratelimit"
)

// JoinSpectator attaches connID to a debate as spectator. A connection watches
// at most one debate; joining another one leaves the previous seat. Joining
// while searching is allowed and the seat is released when a match is found.
func (s *Service) JoinSpectator(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		c, ok := s.registry.Get(connID)
		if !ok {
			return ErrUnknownConnection
		}
		if c.DebateID != "" {
			return ErrAlreadyInSession
		}
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if c.Spectating != "" && c.Spectating != debateID {
			if prev := s.store.Get(c.Spectating); prev != nil {
				s.leaveSpectatorLocked(o, prev, connID, false)
			}
		}

		now := s.clock.Now()
		fresh := !d.HasSpectator(connID)
		d.spectators[connID] = struct{}{}
		d.LastActivity = now
		s.registry.SetSpectating(connID, d.ID)

		o.send(connID, protocol.TypeSpectatorJoined, protocol.SpectatorJoinedMsg{
			Debate:  d.View(now),
			ChatLog: d.ChatLog(),
		})
		if d.Phase == PhaseOpenDebate {
			o.send(connID, protocol.TypeVotingStart, protocol.VotingStartMsg{
				DebateID: d.ID,
				Round:    d.Round,
				Duration: ceilSeconds(min(s.cfg.VotingDuration, d.Remaining(now))),
			})
		}
		if !fresh {
			return nil
		}
		s.toParticipantsLocked(o, d, protocol.TypeSpectatorJoinedNotify, protocol.SpectatorJoinedNotifyMsg{
			DebateID:    d.ID,
			SpectatorID: connID,
			Count:       d.SpectatorCount(),
		})
		s.broadcastLocked(o, d, protocol.TypeSpectatorCountUpdate, protocol.SpectatorCountUpdateMsg{
			DebateID: d.ID,
			Count:    d.SpectatorCount(),
		})
		return nil
	})
}

// LeaveSpectator detaches connID from the debate it watches.
func (s *Service) LeaveSpectator(debateID, connID string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if !d.HasSpectator(connID) {
			return ErrNotAuthorized
		}
		s.leaveSpectatorLocked(o, d, connID, true)
		return nil
	})
}

// leaveSpectatorLocked removes the spectator and its vote. confirm sends
// spectator_left to the leaver.
func (s *Service) leaveSpectatorLocked(o *outbox, d *Debate, connID string, confirm bool) {
	if !d.HasSpectator(connID) {
		return
	}
	delete(d.spectators, connID)
	_, voted := d.votes[connID]
	delete(d.votes, connID)
	s.registry.SetSpectating(connID, "")

	if confirm {
		o.send(connID, protocol.TypeSpectatorLeft, protocol.SpectatorLeftMsg{DebateID: d.ID})
	}
	s.broadcastLocked(o, d, protocol.TypeSpectatorCountUpdate, protocol.SpectatorCountUpdateMsg{
		DebateID: d.ID,
		Count:    d.SpectatorCount(),
	})
	if voted {
		s.toSpectatorsLocked(o, d, protocol.TypeVoteUpdate, protocol.VoteUpdateMsg{
			DebateID: d.ID,
			Round:    d.Round,
			Votes:    d.Tally(),
		})
	}
}

// CastVote records a spectator's vote for the current round. A revote
// replaces the previous one. choice is a slot name or a participant's
// connection id.
func (s *Service) CastVote(debateID, connID, choice string) error {
	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if !d.HasSpectator(connID) {
			return ErrNotAuthorized
		}

		var slot string
		switch choice {
		case SlotParticipant1, SlotParticipant2:
			slot = choice
		default:
			p := d.Participant(choice)
			if p == nil || choice == "" {
				return ErrInvalidChoice
			}
			slot = p.Slot
		}

		d.votes[connID] = slot
		d.LastActivity = s.clock.Now()
		o.send(connID, protocol.TypeVoteRecorded, protocol.VoteRecordedMsg{DebateID: d.ID, Choice: slot})
		s.toSpectatorsLocked(o, d, protocol.TypeVoteUpdate, protocol.VoteUpdateMsg{
			DebateID: d.ID,
			Round:    d.Round,
			Votes:    d.Tally(),
		})
		return nil
	})
}

// SpectatorChat validates and filters a spectator's chat line, appends it to
// the debate log and broadcasts it.
func (s *Service) SpectatorChat(ctx context.Context, debateID, connID, text string) error {
	c, err := s.lookup(connID)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, c.Identity(), "spectator_chat", ratelimit.RuleChat); err != nil {
		return err
	}
	if err := chat.ValidateMessage(text); err != nil {
		return fmt.Errorf("%w: %w", ErrContentRejected, err)
	}
	if res := s.filter.Check(text); res.Blocked {
		s.log.Info().Str("conn", connID).Str("reason", res.Reason).Str("term", res.Term).Msg("spectator chat blocked")
		return fmt.Errorf("%w: %s", ErrContentRejected, res.Reason)
	}

	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		if !d.HasSpectator(connID) {
			return ErrNotAuthorized
		}
		now := s.clock.Now()
		msg := chat.Message{
			ID:   s.newID(),
			From: connID,
			Role: "spectator",
			Text: text,
			Ts:   now.UnixMilli(),
		}
		d.chat.Add(msg)
		d.LastActivity = now
		s.broadcastLocked(o, d, protocol.TypeSpectatorChatMessage, protocol.SpectatorChatMessageMsg{
			DebateID: d.ID,
			Name:     c.Name,
			Message:  msg,
		})
		return nil
	})
}
