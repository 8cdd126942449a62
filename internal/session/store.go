// Package session is the connection registry: it maps every live connection
// handle to its display name, moderation identity, current debate and side,
// and the transport used to reach it.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Status constants for a connection.
const (
	StatusIdle       = "idle"
	StatusSearching  = "searching"
	StatusDebating   = "debating"
	StatusSpectating = "spectating"
)

// DefaultName is used when a client never sets a display name.
const DefaultName = "Anonymous"

// ErrDuplicate is returned when registering an ID that is already present.
var ErrDuplicate = errors.New("session: connection already registered")

// TransportKind tells how a connection is reached.
type TransportKind string

const (
	// TransportLive is a persistent socket; frames are written immediately.
	TransportLive TransportKind = "live"
	// TransportQueued is a polling client; frames wait in a mailbox.
	TransportQueued TransportKind = "queued"
)

// Transport delivers encoded frames to one connection.
type Transport interface {
	Kind() TransportKind
	Deliver(frame []byte) error
	Close() error
}

// Connection is a snapshot of one registered connection.
type Connection struct {
	ID          string
	Name        string
	Fingerprint string // optional client fingerprint, used as moderation identity
	Privileged  bool   // may use category pools
	Status      string
	DebateID    string // debate this connection participates in
	Side        string // stance in DebateID
	Spectating  string // debate this connection watches
	Transport   Transport
	CreatedAt   time.Time
	LastSeen    time.Time
}

// Identity returns the key used for reports, bans and blocks.
func (c Connection) Identity() string {
	if c.Fingerprint != "" {
		return "fp:" + c.Fingerprint
	}
	return c.ID
}

// Registry holds all connections. Reads return copies so callers never share
// mutable state with the registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
}

// Register adds a connection in idle status.
func (r *Registry) Register(id, name string, t Transport) (Connection, error) {
	if name == "" {
		name = DefaultName
	}
	now := r.now()
	c := &Connection{
		ID:        id,
		Name:      name,
		Status:    StatusIdle,
		Transport: t,
		CreatedAt: now,
		LastSeen:  now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return Connection{}, ErrDuplicate
	}
	r.conns[id] = c
	return *c, nil
}

// Remove deletes a connection and returns its last state.
func (r *Registry) Remove(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return *c, true
}

// Get returns a copy of the connection.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Transport returns the transport of a connection.
func (r *Registry) Transport(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok || c.Transport == nil {
		return nil, false
	}
	return c.Transport, true
}

// SetProfile updates display name, fingerprint and privilege. Empty name and
// fingerprint leave the current values in place.
func (r *Registry) SetProfile(id, name, fingerprint string, privileged bool) (Connection, bool) {
	return r.update(id, func(c *Connection) {
		if name != "" {
			c.Name = name
		}
		if fingerprint != "" {
			c.Fingerprint = fingerprint
		}
		c.Privileged = c.Privileged || privileged
	})
}

// SetStatus sets the status of a connection.
func (r *Registry) SetStatus(id, status string) bool {
	_, ok := r.update(id, func(c *Connection) { c.Status = status })
	return ok
}

// BindDebate marks a connection as participant of a debate.
func (r *Registry) BindDebate(id, debateID, side string) bool {
	_, ok := r.update(id, func(c *Connection) {
		c.DebateID = debateID
		c.Side = side
		c.Spectating = ""
		c.Status = StatusDebating
	})
	return ok
}

// ClearDebate releases a participant from its debate and returns it to idle.
func (r *Registry) ClearDebate(id string) bool {
	_, ok := r.update(id, func(c *Connection) {
		c.DebateID = ""
		c.Side = ""
		c.Status = StatusIdle
	})
	return ok
}

// SetSpectating attaches a connection to debateID as spectator, or detaches
// it when debateID is empty. A searching connection keeps its status.
func (r *Registry) SetSpectating(id, debateID string) bool {
	_, ok := r.update(id, func(c *Connection) {
		c.Spectating = debateID
		switch {
		case debateID != "" && c.Status == StatusIdle:
			c.Status = StatusSpectating
		case debateID == "" && c.Status == StatusSpectating:
			c.Status = StatusIdle
		}
	})
	return ok
}

// Touch records activity on a connection.
func (r *Registry) Touch(id string) bool {
	now := r.now()
	_, ok := r.update(id, func(c *Connection) { c.LastSeen = now })
	return ok
}

// ByIdentity returns the IDs of connections sharing a moderation identity,
// sorted for stable iteration.
func (r *Registry) ByIdentity(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.conns {
		if c.Identity() == identity {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IdleQueued returns polling connections not seen since cutoff.
func (r *Registry) IdleQueued(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.conns {
		if c.Transport != nil && c.Transport.Kind() == TransportQueued && c.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) update(id string, fn func(c *Connection)) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	fn(c)
	return *c, true
}
