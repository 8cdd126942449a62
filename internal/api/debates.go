package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/relay"
)

// qrSize is the edge of the spectate QR code in pixels.
const qrSize = 320

type connectionRequest struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	PremiumKey  string `json:"premium_key"`
}

type connRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
}

type findRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
	Category     string `json:"category"`
}

type signalRequest struct {
	ConnectionID string          `json:"connection_id" binding:"required"`
	Kind         string          `json:"kind" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
}

// createConnection registers a polling connection. Its frames wait in a
// mailbox until drained through /api/signals.
func (h *Handler) createConnection(c *gin.Context) {
	var req connectionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	id := h.newID()
	if err := h.svc.Connect(id, req.Name, relay.NewMailbox()); err != nil {
		h.abortWithError(c, err)
		return
	}
	conn, err := h.svc.SetProfile(id, req.Name, req.Fingerprint, req.PremiumKey)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"connection_id": id,
		"name":          conn.Name,
		"privileged":    conn.Privileged,
	})
}

func (h *Handler) deleteConnection(c *gin.Context) {
	h.svc.Disconnect(c.Param("conn"))
	c.Status(http.StatusNoContent)
}

// pollSignals drains the mailbox of a polling connection. A mailbox closed by
// the server (ban, shutdown) is drained one last time and the connection is
// released.
func (h *Handler) pollSignals(c *gin.Context) {
	id := c.Query("connection_id")
	if id == "" {
		badRequest(c, errors.New("connection_id is required"))
		return
	}
	frames, closed, err := h.router.Drain(id)
	switch {
	case errors.Is(err, relay.ErrUnknownConnection):
		h.abortWithError(c, debate.ErrUnknownConnection)
		return
	case errors.Is(err, relay.ErrNotPolling):
		h.abortWithError(c, debate.ErrInvalidMessage)
		return
	case err != nil:
		h.abortWithError(c, err)
		return
	}
	if closed {
		h.svc.Disconnect(id)
	}
	c.JSON(http.StatusOK, gin.H{"signals": frames, "closed": closed})
}

func (h *Handler) findOpponent(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.FindOpponent(c.Request.Context(), req.ConnectionID, req.Category)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if !res.Matched {
		c.JSON(http.StatusAccepted, gin.H{"status": "waiting", "position": res.Position})
		return
	}
	view, err := h.svc.Get(res.DebateID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelSearch(c *gin.Context) {
	var req connRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.CancelSearch(req.ConnectionID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *Handler) listLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"debates": h.svc.ListLive()})
}

func (h *Handler) getDebate(c *gin.Context) {
	view, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getPhase(c *gin.Context) {
	st, err := h.svc.Phase(c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) markReady(c *gin.Context) {
	var req connRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	started, err := h.svc.MarkReady(c.Param("id"), req.ConnectionID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": started})
}

func (h *Handler) turnCompleted(c *gin.Context) {
	h.participantAction(c, h.svc.TurnCompleted)
}

func (h *Handler) endDebate(c *gin.Context) {
	h.participantAction(c, h.svc.EndDebate)
}

func (h *Handler) participantAction(c *gin.Context, op func(debateID, connID string) error) {
	var req connRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := op(c.Param("id"), req.ConnectionID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// relaySignal forwards a call signalling message to the opponent, the same
// way the socket relay kinds do.
func (h *Handler) relaySignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.svc.Relay(c.Request.Context(), c.Param("id"), req.ConnectionID, req.Kind, req.Payload)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "relayed"})
}

// spectateQR renders the spectate link of a running debate as a PNG.
func (h *Handler) spectateQR(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Get(id); err != nil {
		h.abortWithError(c, err)
		return
	}
	png, err := qrcode.Encode(h.spectateURL(c, id), qrcode.Medium, qrSize)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// spectateURL prefers the configured public URL and falls back to the host
// the request came in on.
func (h *Handler) spectateURL(c *gin.Context, id string) string {
	base := strings.TrimRight(h.publicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/watch/" + id
}
