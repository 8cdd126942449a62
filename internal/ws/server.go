// Package ws serves the live transport of the debate server: WebSocket
// sockets upgraded with gobwas/ws, multiplexed over epoll and read by a
// bounded worker pool.
package ws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/metrics"
)

// MaxFrameSize bounds a single client frame. SDP offers are the largest
// legitimate payload.
const MaxFrameSize = 64 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read workers
	MaxConnections int           // hard cap on live sockets
	ReadTimeout    time.Duration // bound on reading one frame after readiness
	WriteTimeout   time.Duration
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// ConnectFunc is called once per upgraded socket, before any frame is read.
// Returning an error closes the socket.
type ConnectFunc func(c *Connection, w *Writer) error

// Server accepts debate sockets and feeds their frames to onMessage.
type Server struct {
	config     ServerConfig
	poller     *poller
	conns      *ConnectionManager
	workerPool chan struct{}

	onConnect    ConnectFunc
	onMessage    func(c *Connection, data []byte)
	onDisconnect func(connID string)

	newID     func() string
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

// NewServer creates a Server. onMessage runs on a worker goroutine for every
// complete text frame.
func NewServer(config ServerConfig, onMessage func(c *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		newID:      uuid.NewString,
		done:       make(chan struct{}),
		log:        logging.Component("ws"),
	}
}

// SetOnConnect registers the callback run after a successful upgrade.
func (s *Server) SetOnConnect(fn ConnectFunc) {
	s.onConnect = fn
}

// SetOnDisconnect registers the callback run once when a socket is removed,
// whatever the cause: read error, close frame, heartbeat timeout or a close
// requested by the application.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Start creates the poller and launches the event loop and heartbeat. The
// HTTP listener belongs to the caller, which mounts HandleUpgrade.
func (s *Server) Start() error {
	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("ws: create poller: %w", err)
	}
	s.poller = p

	go s.eventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	s.log.Info().
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("websocket server started")
	return nil
}

// HandleUpgrade upgrades the request and registers the socket.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(s.newID(), conn, time.Now())
	s.conns.Add(c)

	if s.onConnect != nil {
		if err := s.onConnect(c, &Writer{server: s, conn: c}); err != nil {
			s.log.Warn().Str("conn", c.ID).Err(err).Msg("connect rejected")
			s.conns.Remove(c.ID)
			return
		}
	}

	if err := s.poller.Add(conn); err != nil {
		s.log.Error().Str("conn", c.ID).Err(err).Msg("poller add failed")
		s.RemoveConnection(c)
		return
	}

	s.log.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("socket opened")
}

// eventLoop hands every readable socket to a worker.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				s.log.Error().Err(err).Msg("poller wait failed")
			}
			continue
		}

		for _, conn := range ready {
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready socket. Control frames are
// consumed here; text frames go to onMessage.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	// Level-triggered readiness can report a socket that a worker is
	// already reading.
	if !c.processing.CompareAndSwap(false, true) {
		return
	}
	removed := false
	defer func() {
		c.processing.Store(false)
		if !removed {
			s.poller.Rearm(netConn)
		}
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Stale readiness; the heartbeat evicts dead sockets.
			return
		}
		removed = true
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch(time.Now())

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			removed = true
			s.RemoveConnection(c)
		}
		return
	}
	if header.Length > MaxFrameSize {
		metrics.FramesTotal.WithLabelValues("oversized").Inc()
		s.log.Warn().Str("conn", c.ID).Int64("size", header.Length).Msg("frame too large")
		removed = true
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		removed = true
		s.RemoveConnection(c)
		return
	}
	if len(data) == 0 {
		return
	}
	metrics.FramesTotal.WithLabelValues("read").Inc()
	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection unregisters c, closes its socket and runs the disconnect
// callback. Concurrent calls for the same socket clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poller != nil {
		_ = s.poller.Remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	s.log.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("socket closed")
}

// Write sends a text frame to the socket with the configured write timeout.
func (s *Server) Write(c *Connection, data []byte) error {
	return c.write(data, s.config.WriteTimeout)
}

// Connections exposes the live socket registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the event loop and heartbeat and closes every socket. The
// disconnect callback still runs for each of them.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		if s.poller != nil {
			_ = s.poller.Close()
		}
		s.log.Info().Msg("websocket server stopped")
	})
}
