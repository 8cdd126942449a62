package debate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hottake/debate-app/internal/chat"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/ratelimit"
)

// Relay forwards an opaque payload from a participant to its opponent. kind
// is one of webrtc_offer, webrtc_answer, ice_candidate, mute_state,
// send_emoji or chat. Emoji and chat also reach the spectators, and chat text
// is kept in the debate log.
func (s *Service) Relay(ctx context.Context, debateID, fromConn, kind string, payload json.RawMessage) error {
	outType, ok := protocol.RelayOutboundType(kind)
	if !ok {
		return ErrInvalidMessage
	}
	if kind == protocol.TypeChat {
		c, err := s.lookup(fromConn)
		if err != nil {
			return err
		}
		if err := s.allow(ctx, c.Identity(), "chat", ratelimit.RuleChat); err != nil {
			return err
		}
	}

	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		from := d.Participant(fromConn)
		if from == nil {
			return ErrNotAuthorized
		}
		opp := d.Opponent(fromConn)
		if !opp.Connected {
			return ErrOpponentUnresolvable
		}
		if _, ok := s.registry.Transport(opp.ConnID); !ok {
			return ErrOpponentUnresolvable
		}

		now := s.clock.Now()
		msg := protocol.RelayedMsg{
			DebateID: d.ID,
			From:     fromConn,
			FromName: from.Name,
			Payload:  payload,
		}
		o.send(opp.ConnID, outType, msg)

		switch kind {
		case protocol.TypeChat:
			if text, ok := chatText(payload); ok {
				d.chat.Add(chat.Message{
					ID:   s.newID(),
					From: fromConn,
					Role: "participant",
					Text: text,
					Ts:   now.UnixMilli(),
				})
			}
			s.toSpectatorsLocked(o, d, outType, msg)
		case protocol.TypeSendEmoji:
			s.toSpectatorsLocked(o, d, outType, msg)
		}

		d.LastActivity = now
		metrics.RelayedTotal.WithLabelValues(kind).Inc()
		return nil
	})
}

// chatText extracts {"text": "..."} from a chat payload. Payloads are opaque,
// so anything else is relayed but not logged.
func chatText(payload json.RawMessage) (string, bool) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false
	}
	if strings.TrimSpace(body.Text) == "" {
		return "", false
	}
	return body.Text, true
}

// SpectatorSignal relays WebRTC signalling between a participant and a
// spectator of the same debate, in either direction.
func (s *Service) SpectatorSignal(debateID, fromConn, peerID, kind string, payload json.RawMessage) error {
	switch kind {
	case protocol.SignalOffer, protocol.SignalAnswer, protocol.SignalCandidate:
	default:
		return ErrInvalidMessage
	}

	return s.do(func(o *outbox) error {
		d := s.store.Get(debateID)
		if d == nil {
			return ErrSessionNotFound
		}
		fromParticipant := d.Participant(fromConn) != nil
		peerParticipant := d.Participant(peerID)
		switch {
		case fromParticipant && d.HasSpectator(peerID):
		case d.HasSpectator(fromConn) && peerParticipant != nil:
			if !peerParticipant.Connected {
				return ErrOpponentUnresolvable
			}
		default:
			return ErrNotAuthorized
		}
		o.send(peerID, protocol.TypeSpectatorSignal, protocol.SpectatorSignalOutMsg{
			DebateID: d.ID,
			From:     fromConn,
			Kind:     kind,
			Payload:  payload,
		})
		metrics.RelayedTotal.WithLabelValues(protocol.TypeSpectatorSignal).Inc()
		return nil
	})
}
