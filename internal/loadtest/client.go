// Package loadtest drives simulated debaters and spectators against a running
// debate server over its WebSocket endpoint and aggregates what they observe.
package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Metrics are the per-client counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int64
	MessagesSent     int64
	Errors           int64
}

// Client is one simulated user.
type Client struct {
	conn net.Conn
	name string

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]func(json.RawMessage)

	id        atomic.Value // string, set by the connected frame
	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	connectLatency time.Duration
	received       atomic.Int64
	sent           atomic.Int64
	errors         atomic.Int64
}

// Dial connects to url and starts reading. The server greets every socket
// with a connected frame; the client answers it with set_profile.
func Dial(ctx context.Context, url, name string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &Client{
		conn:           conn,
		name:           name,
		handlers:       make(map[string]func(json.RawMessage)),
		connected:      make(chan struct{}),
		done:           make(chan struct{}),
		connectLatency: time.Since(start),
	}
	go c.readLoop()
	return c, nil
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		c.errors.Add(1)
		return err
	}
	c.sent.Add(1)
	return nil
}

// On registers the handler for a server frame type, replacing any previous
// one. Handlers run on the read goroutine.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlersMu.Lock()
	c.handlers[msgType] = handler
	c.handlersMu.Unlock()
}

// WaitConnected blocks until the server has assigned a connection id.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return errors.New("connection closed before greeting")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the connection id assigned by the server.
func (c *Client) ID() string {
	id, _ := c.id.Load().(string)
	return id
}

// Metrics returns a snapshot of the counters.
func (c *Client) Metrics() Metrics {
	return Metrics{
		ConnectLatency:   c.connectLatency,
		MessagesReceived: c.received.Load(),
		MessagesSent:     c.sent.Load(),
		Errors:           c.errors.Load(),
	}
}

// Close closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errors.Add(1)
			}
			return
		}
		c.received.Add(1)

		var env struct {
			Type         string `json:"type"`
			ConnectionID string `json:"connection_id"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			c.errors.Add(1)
			continue
		}
		if env.Type == "connected" && env.ConnectionID != "" && c.ID() == "" {
			c.id.Store(env.ConnectionID)
			_ = c.Send(map[string]string{
				"type":        "set_profile",
				"name":        c.name,
				"fingerprint": "load-" + env.ConnectionID,
			})
			close(c.connected)
		}

		c.handlersMu.RLock()
		h := c.handlers[env.Type]
		c.handlersMu.RUnlock()
		if h != nil {
			h(json.RawMessage(data))
		}
	}
}
