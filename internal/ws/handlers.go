package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/relay"
)

// handlerTimeout bounds the storage calls (rate limits, bans) behind one
// client frame.
const handlerTimeout = 5 * time.Second

// Bind connects server and dispatcher to svc: every upgraded socket becomes a
// live debate connection and every removed socket is disconnected from it.
func Bind(server *Server, d *MessageDispatcher, svc *debate.Service) {
	d.SetServer(server)
	server.SetOnConnect(func(c *Connection, w *Writer) error {
		return svc.Connect(c.ID, "", relay.NewLive(w))
	})
	server.SetOnDisconnect(svc.Disconnect)
	RegisterHandlers(d, svc)
}

// RegisterHandlers maps every client frame type onto the debate service.
func RegisterHandlers(d *MessageDispatcher, svc *debate.Service) {
	d.Register(protocol.TypeSetProfile, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.SetProfileMsg](msg)
		if err != nil {
			return err
		}
		_, err = svc.SetProfile(c.ID, m.Name, m.Fingerprint, m.PremiumKey)
		return err
	})

	d.Register(protocol.TypeFindOpponent, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.FindOpponentMsg](msg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		_, err = svc.FindOpponent(ctx, c.ID, m.Category)
		return err
	})

	d.Register(protocol.TypeCancelSearch, func(c *Connection, _ interface{}) error {
		return svc.CancelSearch(c.ID)
	})

	d.Register(protocol.TypeResumeDebate, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.ResumeDebateMsg](msg)
		if err != nil {
			return err
		}
		return svc.Resume(c.ID, m.DebateID, m.Token)
	})

	for _, kind := range []string{
		protocol.TypeWebRTCOffer,
		protocol.TypeWebRTCAnswer,
		protocol.TypeICECandidate,
		protocol.TypeMuteState,
		protocol.TypeSendEmoji,
		protocol.TypeChat,
	} {
		d.Register(kind, func(c *Connection, msg interface{}) error {
			m, err := as[protocol.RelayMsg](msg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			return svc.Relay(ctx, m.DebateID, c.ID, kind, m.Payload)
		})
	}

	debateOp := func(op func(debateID, connID string) error) MessageHandler {
		return func(c *Connection, msg interface{}) error {
			m, err := as[protocol.DebateMsg](msg)
			if err != nil {
				return err
			}
			return op(m.DebateID, c.ID)
		}
	}
	d.Register(protocol.TypeTurnCompleted, debateOp(svc.TurnCompleted))
	d.Register(protocol.TypeRequestNewTopic, debateOp(svc.RequestNewTopic))
	d.Register(protocol.TypeSkipTopicRequest, debateOp(svc.SkipTopicRequest))
	d.Register(protocol.TypeEndDebate, debateOp(svc.EndDebate))
	d.Register(protocol.TypeJoinSpectator, debateOp(svc.JoinSpectator))
	d.Register(protocol.TypeLeaveSpectator, debateOp(svc.LeaveSpectator))

	d.Register(protocol.TypeSkipTopicResponse, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.SkipTopicResponseMsg](msg)
		if err != nil {
			return err
		}
		return svc.SkipTopicResponse(m.DebateID, c.ID, m.Accepted)
	})

	d.Register(protocol.TypeCastVote, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.CastVoteMsg](msg)
		if err != nil {
			return err
		}
		return svc.CastVote(m.DebateID, c.ID, m.Choice)
	})

	d.Register(protocol.TypeSpectatorChat, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.SpectatorChatMsg](msg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return svc.SpectatorChat(ctx, m.DebateID, c.ID, m.Text)
	})

	d.Register(protocol.TypeSpectatorSignal, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.SpectatorSignalMsg](msg)
		if err != nil {
			return err
		}
		return svc.SpectatorSignal(m.DebateID, c.ID, m.PeerID, m.Kind, m.Payload)
	})

	d.Register(protocol.TypeReportUser, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.ReportUserMsg](msg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		_, err = svc.Report(ctx, c.ID, m.TargetID, m.Reason)
		return err
	})

	d.Register(protocol.TypeBlockUser, func(c *Connection, msg interface{}) error {
		m, err := as[protocol.BlockUserMsg](msg)
		if err != nil {
			return err
		}
		return svc.Block(c.ID, m.TargetID)
	})

	d.Register(protocol.TypeListDebates, func(c *Connection, _ interface{}) error {
		d.Reply(c, protocol.TypeDebatesList, protocol.DebatesListMsg{Debates: svc.ListLive()})
		return nil
	})
}

// as asserts the parsed frame type.
func as[T any](msg interface{}) (T, error) {
	m, ok := msg.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unexpected payload %T", debate.ErrInvalidMessage, msg)
	}
	return m, nil
}
