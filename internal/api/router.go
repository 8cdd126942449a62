// Package api is the HTTP side of the debate server: the polling facade for
// clients without a socket, plus health, stats, metrics, the topic catalog,
// ICE configuration and spectate QR codes.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/metrics"
	"github.com/hottake/debate-app/internal/protocol"
	"github.com/hottake/debate-app/internal/relay"
	"github.com/hottake/debate-app/internal/topic"
)

// Options are the collaborators of the HTTP surface.
type Options struct {
	Service    *debate.Service
	Router     *relay.Router
	Catalog    *topic.Catalog
	ICEServers []webrtc.ICEServer
	PublicURL  string           // base of spectate links
	Upgrade    http.HandlerFunc // WebSocket upgrade mounted at /ws; nil disables it
	Mode       string           // gin mode; empty keeps the current one
}

// Handler serves the HTTP routes.
type Handler struct {
	svc       *debate.Service
	router    *relay.Router
	catalog   *topic.Catalog
	ice       []webrtc.ICEServer
	publicURL string
	startedAt time.Time
	newID     func() string
	log       zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	ice := opts.ICEServers
	if ice == nil {
		ice = []webrtc.ICEServer{}
	}
	return &Handler{
		svc:       opts.Service,
		router:    opts.Router,
		catalog:   opts.Catalog,
		ice:       ice,
		publicURL: opts.PublicURL,
		startedAt: time.Now(),
		newID:     uuid.NewString,
		log:       logging.Component("api"),
	}
}

// NewEngine builds the gin engine with every route mounted.
func NewEngine(opts Options) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	h := NewHandler(opts)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestLogger())
	h.Mount(r)
	if opts.Upgrade != nil {
		r.GET("/ws", gin.WrapF(opts.Upgrade))
	}
	return r
}

// Mount registers the routes on r.
func (h *Handler) Mount(r gin.IRouter) {
	r.GET("/health", h.health)
	r.GET("/stats", h.stats)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	api.POST("/connections", h.createConnection)
	api.DELETE("/connections/:conn", h.deleteConnection)
	api.GET("/signals", h.pollSignals)

	debates := api.Group("/debates")
	debates.POST("/find-opponent", h.findOpponent)
	debates.POST("/cancel", h.cancelSearch)
	debates.GET("/live", h.listLive)
	debates.GET("/:id", h.getDebate)
	debates.GET("/:id/phase", h.getPhase)
	debates.GET("/:id/qr", h.spectateQR)
	debates.POST("/:id/ready", h.markReady)
	debates.POST("/:id/turn", h.turnCompleted)
	debates.POST("/:id/signal", h.relaySignal)
	debates.POST("/:id/end", h.endDebate)

	api.GET("/topics", h.listTopics)
	api.GET("/topics/random", h.randomTopic)
	api.GET("/topics/categories", h.topicCategories)
	api.GET("/ice-servers", h.iceServers)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (h *Handler) health(c *gin.Context) {
	st := h.svc.Stats(false)
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         time.Since(h.startedAt).Round(time.Second).String(),
		"waiting":        st.Waiting,
		"active_debates": st.ActiveDebates,
		"connected":      st.Connected,
	})
}

func (h *Handler) stats(c *gin.Context) {
	st := h.svc.Stats(true)
	if st.Debates == nil {
		st.Debates = []protocol.DebateSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         time.Since(h.startedAt).Round(time.Second).String(),
		"waiting":        st.Waiting,
		"active_debates": st.ActiveDebates,
		"connected":      st.Connected,
		"spectators":     st.Spectators,
		"debates":        st.Debates,
	})
}
