package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/YJPM/ti-options/internal/auth"
	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/internal/metrics"
	"github.com/YJPM/ti-options/internal/model"
	"github.com/YJPM/ti-options/internal/plugin"
	"github.com/YJPM/ti-options/internal/ws"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxSnapshotBytes = 8 << 20

// knownEvents are the host lifecycle events a bridge may report.
var knownEvents = map[string]bool{
	host.EventGenerationAfterCommands: true,
	host.EventGenerationStopped:       true,
	host.EventGenerationEnded:         true,
	host.EventChatChanged:             true,
}

// ClickFunc applies a click on a rendered option.
type ClickFunc func(index int) error

// HostHandler serves the bridge endpoints: adapter selection, host context
// pushes, lifecycle events and the UI websocket.
type HostHandler struct {
	bridge  *host.Bridge
	bus     *plugin.EventBus
	hub     *ws.Hub
	db      *gorm.DB
	onClick ClickFunc
	logger  *slog.Logger
}

// NewHostHandler creates a HostHandler and routes inbound websocket frames
// to it. onClick may be nil when no plugin renders options.
func NewHostHandler(bridge *host.Bridge, bus *plugin.EventBus, hub *ws.Hub, db *gorm.DB, onClick ClickFunc) *HostHandler {
	h := &HostHandler{
		bridge:  bridge,
		bus:     bus,
		hub:     hub,
		db:      db,
		onClick: onClick,
		logger:  slog.Default().With("module", "host"),
	}
	hub.OnMessage(h.HandleMessage)
	return h
}

// Register mounts the bridge routes on r.
func (h *HostHandler) Register(r *gin.RouterGroup) {
	r.POST("/host/hello", h.Hello)
	r.PUT("/host/context", h.UpdateContext)
	r.PUT("/host/snapshot", h.UpdateSnapshot)
	r.POST("/host/events", h.Event)
	r.GET("/host/ws", h.WebSocket)
}

// Hello selects the host adapter for the bridge session.
func (h *HostHandler) Hello(c *gin.Context) {
	var caps host.Capabilities
	if err := c.ShouldBindJSON(&caps); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
		return
	}
	if caps.Session == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is required", "error_key": "error.session_required"})
		return
	}
	caps.Client = auth.ClientName(c, caps.Client)
	a := h.bridge.Hello(caps)
	h.logger.Info("bridge hello", "client", caps.Client, "session", caps.Session, "adapter", a.Kind())
	c.JSON(http.StatusOK, gin.H{"adapter": a.Kind(), "session": caps.Session})
}

// UpdateContext stores a structured host context.
func (h *HostHandler) UpdateContext(c *gin.Context) {
	var hc host.Context
	if err := c.ShouldBindJSON(&hc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
		return
	}
	if err := h.bridge.UpdateContext(hc); err != nil {
		bridgeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateSnapshot stores an HTML snapshot of the chat page.
func (h *HostHandler) UpdateSnapshot(c *gin.Context) {
	page, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSnapshotBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
		return
	}
	if len(page) > maxSnapshotBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "snapshot too large", "error_key": "error.snapshot_too_large"})
		return
	}
	if err := h.bridge.UpdateSnapshot(page); err != nil {
		bridgeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type eventRequest struct {
	Type    string         `json:"type" binding:"required"`
	Payload map[string]any `json:"payload"`
}

// Event publishes a host lifecycle event.
func (h *HostHandler) Event(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
		return
	}
	if err := h.publish(auth.ClientName(c, "bridge"), req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.unknown_event"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HostHandler) publish(client string, req eventRequest) error {
	if !knownEvents[req.Type] {
		return errors.New("unknown event type " + req.Type)
	}
	h.bus.Publish(plugin.Event{Type: req.Type, Payload: req.Payload, Source: client})
	h.audit(client, req)
	return nil
}

func (h *HostHandler) audit(client string, req eventRequest) {
	if h.db == nil {
		return
	}
	detail, _ := json.Marshal(req.Payload)
	ev := model.HostEvent{Type: req.Type, Detail: string(detail), Client: client}
	if err := h.db.Create(&ev).Error; err != nil {
		h.logger.Warn("record host event", "type", req.Type, "err", err)
	}
}

// WebSocket streams UI events to the bridge and accepts events and clicks.
func (h *HostHandler) WebSocket(c *gin.Context) {
	client := auth.ClientName(c, c.DefaultQuery("client", "bridge"))
	metrics.BridgesConnected.Inc()
	defer metrics.BridgesConnected.Dec()

	if err := h.hub.Serve(c.Writer, c.Request, client); err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", "client", client, "err", err)
	}
}

// inboundMessage is a frame sent by the bridge over the websocket.
type inboundMessage struct {
	Kind    string         `json:"kind"` // "event" or "click"
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Index   int            `json:"index"`
}

// HandleMessage applies one inbound websocket frame. Bad frames are logged
// and dropped.
func (h *HostHandler) HandleMessage(client string, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("bad frame", "client", client, "err", err)
		return
	}
	switch strings.ToLower(msg.Kind) {
	case "event":
		if err := h.publish(client, eventRequest{Type: msg.Type, Payload: msg.Payload}); err != nil {
			h.logger.Debug("dropped event", "client", client, "err", err)
		}
	case "click":
		if h.onClick == nil {
			return
		}
		if err := h.onClick(msg.Index); err != nil {
			h.logger.Debug("click ignored", "client", client, "index", msg.Index, "err", err)
		}
	default:
		h.logger.Debug("unknown frame kind", "client", client, "kind", msg.Kind)
	}
}

func bridgeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, host.ErrNoBridge):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_key": "error.no_bridge"})
	case errors.Is(err, host.ErrWrongSurface):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_key": "error.wrong_surface"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_snapshot"})
	}
}
