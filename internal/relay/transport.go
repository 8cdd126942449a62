// Package relay delivers server frames to connections over either of the two
// transports a connection can have: a live socket or a polling mailbox.
package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/hottake/debate-app/internal/session"
)

// MaxMailboxFrames bounds the frames a polling client may leave undrained.
const MaxMailboxFrames = 512

// Errors returned by transports.
var (
	ErrClosed      = errors.New("relay: transport closed")
	ErrMailboxFull = errors.New("relay: mailbox full")
)

// Sender is the socket side of a live transport. *ws.Writer satisfies it.
type Sender interface {
	WriteMessage(data []byte) error
	Close() error
}

// Live writes frames straight to a socket. Delivery is at most once.
type Live struct {
	sender Sender
}

// NewLive wraps a socket sender.
func NewLive(s Sender) *Live {
	return &Live{sender: s}
}

// Kind implements session.Transport.
func (l *Live) Kind() session.TransportKind { return session.TransportLive }

// Deliver writes the frame to the socket.
func (l *Live) Deliver(frame []byte) error {
	return l.sender.WriteMessage(frame)
}

// Close closes the socket. The read loop notices and runs the disconnect path.
func (l *Live) Close() error {
	return l.sender.Close()
}

// Mailbox queues frames for a polling client in arrival order until drained.
type Mailbox struct {
	mu     sync.Mutex
	frames []json.RawMessage
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Kind implements session.Transport.
func (m *Mailbox) Kind() session.TransportKind { return session.TransportQueued }

// Deliver appends a frame. Frames are kept after Close so the final notices
// (ban, debate ended) can still be drained.
func (m *Mailbox) Deliver(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) >= MaxMailboxFrames {
		return ErrMailboxFull
	}
	cp := make(json.RawMessage, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	return nil
}

// Close marks the mailbox closed. The next Drain reports it so the caller can
// disconnect the connection.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Drain returns all pending frames, oldest first, and empties the mailbox.
// closed reports whether the server closed this connection.
func (m *Mailbox) Drain() (frames []json.RawMessage, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames = m.frames
	if frames == nil {
		frames = []json.RawMessage{}
	}
	m.frames = nil
	return frames, m.closed
}

// Len returns the number of pending frames.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}
