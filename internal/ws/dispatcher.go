package ws

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/protocol"
)

// MessageHandler handles one parsed client frame. msg is the concrete struct
// returned by protocol.ParseClientMessage. A returned error is reported to
// the sender.
type MessageHandler func(conn *Connection, msg interface{}) error

// MessageDispatcher routes client frames to handlers by type, answers ping
// itself and turns handler errors into error frames.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	write    func(c *Connection, data []byte) error
	log      zerolog.Logger
}

// NewMessageDispatcher creates a dispatcher bound to server. server may be
// nil and set later with SetServer, since NewServer needs Dispatch.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	d := &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logging.Component("dispatch"),
	}
	if server != nil {
		d.SetServer(server)
	}
	return d
}

// SetServer routes replies through server.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.write = server.Write
}

// Register associates a handler with a message type, replacing any previous
// one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback of the Server.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("malformed").Inc()
		d.log.Debug().Str("conn", conn.ID).Str("type", msgType).Err(err).Msg("parse error")
		d.sendError(conn, debate.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch(time.Now())
		d.Reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug().Str("conn", conn.ID).Str("type", msgType).Msg("unsupported message type")
		d.sendError(conn, debate.CodeInvalidMessage, "unsupported message type")
		return
	}

	if err := handler(conn, msg); err != nil {
		d.reportError(conn, msgType, err)
	}
}

// reportError tells the sender why its frame was refused. A ban has already
// been announced with a banned frame.
func (d *MessageDispatcher) reportError(conn *Connection, msgType string, err error) {
	var rl *debate.RateLimitedError
	switch {
	case errors.As(err, &rl):
		d.Reply(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			Action:     rl.Action,
			RetryAfter: int((rl.RetryAfter + time.Second - 1) / time.Second),
		})
	case errors.Is(err, debate.ErrBanned):
	default:
		code := debate.ErrorCode(err)
		ev := d.log.Debug()
		if code == debate.CodeInternal {
			ev = d.log.Error()
		}
		ev.Str("conn", conn.ID).Str("type", msgType).Err(err).Msg("handler failed")
		message := err.Error()
		if code == debate.CodeInternal {
			message = "internal error"
		}
		d.sendError(conn, code, message)
	}
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	d.Reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// Reply writes a server frame straight to conn, bypassing the debate
// notifier.
func (d *MessageDispatcher) Reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error().Str("conn", conn.ID).Str("type", msgType).Err(err).Msg("encode reply failed")
		return
	}
	if d.write == nil {
		return
	}
	if err := d.write(conn, data); err != nil {
		d.log.Debug().Str("conn", conn.ID).Str("type", msgType).Err(err).Msg("reply failed")
	}
}
