package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/session"
)

// ErrUnknownConnection is returned when the target is not registered.
var ErrUnknownConnection = errors.New("relay: unknown connection")

// ErrNotPolling is returned by Drain for connections without a mailbox.
var ErrNotPolling = errors.New("relay: connection has no mailbox")

// Router resolves a connection's transport through the registry and delivers
// encoded frames to it.
type Router struct {
	registry *session.Registry
	log      zerolog.Logger
}

// NewRouter creates a Router over the connection registry.
func NewRouter(registry *session.Registry) *Router {
	return &Router{
		registry: registry,
		log:      logging.Component("relay"),
	}
}

// Send encodes payload as a msgType frame and delivers it to connID.
func (r *Router) Send(connID, msgType string, payload interface{}) error {
	t, ok := r.registry.Transport(connID)
	if !ok {
		return ErrUnknownConnection
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	if err := t.Deliver(data); err != nil {
		r.log.Debug().Str("conn", connID).Str("msg", msgType).Err(err).Msg("deliver failed")
		return fmt.Errorf("relay: deliver %s: %w", msgType, err)
	}
	return nil
}

// Close closes the transport of connID, if any.
func (r *Router) Close(connID string) {
	t, ok := r.registry.Transport(connID)
	if !ok {
		return
	}
	if err := t.Close(); err != nil {
		r.log.Debug().Str("conn", connID).Err(err).Msg("close failed")
	}
}

// Drain empties the mailbox of a polling connection and touches its
// last-seen time.
func (r *Router) Drain(connID string) ([]json.RawMessage, bool, error) {
	t, ok := r.registry.Transport(connID)
	if !ok {
		return nil, false, ErrUnknownConnection
	}
	mb, ok := t.(*Mailbox)
	if !ok {
		return nil, false, ErrNotPolling
	}
	r.registry.Touch(connID)
	frames, closed := mb.Drain()
	return frames, closed, nil
}
