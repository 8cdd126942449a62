// Package metrics provides Prometheus instrumentation for the debate server:
// gauges for connections, waiting users, debates and spectators, counters for
// matches, endings, relayed frames and moderation actions, and a histogram of
// matchmaking wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of registered connections,
	// labeled by transport: "live" or "queued".
	ConnectionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debate_connections_total",
		Help: "Current number of registered connections",
	}, []string{"transport"})

	// MatchQueueSize tracks the number of connections waiting for an opponent.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "debate_match_queue_size",
		Help: "Current number of connections waiting for an opponent",
	})

	// ActiveDebates tracks the number of debates in the store.
	ActiveDebates = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "debate_active_debates",
		Help: "Current number of active debates",
	})

	// Spectators tracks the number of attached spectators across all debates.
	Spectators = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "debate_spectators",
		Help: "Current number of spectators across all debates",
	})

	// MatchesTotal counts created debates.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "debate_matches_total",
		Help: "Total number of debates created by matchmaking",
	})

	// DebatesEnded counts finished debates by reason.
	DebatesEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_ended_total",
		Help: "Total number of ended debates",
	}, []string{"reason"})

	// RelayedTotal counts frames relayed between participants, by kind.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_relayed_total",
		Help: "Total number of relayed signalling and interaction frames",
	}, []string{"kind"})

	// ReportsTotal counts accepted reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "debate_reports_total",
		Help: "Total number of user reports",
	})

	// BansTotal counts automatic bans.
	BansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "debate_bans_total",
		Help: "Total number of automatic bans",
	})

	// MatchWait records the time from find_opponent to debate creation.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "debate_match_wait_seconds",
		Help:    "Time from entering the queue to being matched",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	})

	// FramesTotal counts client frames read by the socket server, by outcome.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_ws_frames_total",
		Help: "Client frames read over WebSocket by outcome",
	}, []string{"outcome"})

	// HeartbeatEvictions counts sockets dropped for missing heartbeats.
	HeartbeatEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "debate_ws_heartbeat_evictions_total",
		Help: "Sockets closed by the heartbeat monitor",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchQueueSize,
		ActiveDebates,
		Spectators,
		MatchesTotal,
		DebatesEnded,
		RelayedTotal,
		ReportsTotal,
		BansTotal,
		MatchWait,
		FramesTotal,
		HeartbeatEvictions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
