package ws

import (
	"time"

	"github.com/hottake/debate-app/internal/metrics"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace after a ping before the socket is dead
}

// DefaultHeartbeatConfig pings every 30s and allows 10s for the answer.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat pings every socket each Interval and evicts sockets with no
// frame read for Interval+Timeout. Eviction runs the disconnect callback, so
// a participant who vanished without a close frame is treated like one who
// left. It stops with the server.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-server.done:
				return
			case now := <-ticker.C:
				checkConnections(server, config, now)
			}
		}
	}()
}

func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout
	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastSeen())
		if idle > deadline {
			server.log.Info().Str("conn", c.ID).Dur("idle", idle.Round(time.Second)).Msg("heartbeat timeout")
			metrics.HeartbeatEvictions.Inc()
			server.RemoveConnection(c)
			continue
		}
		if err := c.writePing(server.config.WriteTimeout); err != nil {
			server.log.Debug().Str("conn", c.ID).Err(err).Msg("heartbeat ping failed")
			server.RemoveConnection(c)
		}
	}
}
