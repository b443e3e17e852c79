package options

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/plugins/options/llm"
	"github.com/gin-gonic/gin"
)

// Handler exposes the options REST endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new options handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes on r.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.UpdateSettings)
	r.POST("/settings/reset", h.ResetSettings)
	r.POST("/settings/test", h.TestConnection)

	r.POST("/generate", h.Generate)
	r.POST("/retry", h.Retry)
	r.GET("/view", h.View)
	r.POST("/options/:index/click", h.Click)

	r.GET("/director", h.Director)
	r.GET("/history", h.History)
}

// GetSettings returns the settings (API key masked).
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Settings.Load().Masked())
}

// UpdateSettings replaces the settings. A masked API key keeps the stored key.
func (h *Handler) UpdateSettings(c *gin.Context) {
	st := h.svc.Settings.Load()
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
		return
	}
	saved, err := h.svc.Settings.Update(st)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_settings"})
		return
	}
	c.JSON(http.StatusOK, saved.Masked())
}

// ResetSettings restores the defaults.
func (h *Handler) ResetSettings(c *gin.Context) {
	st, err := h.svc.Settings.Reset()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st.Masked())
}

// TestConnection lists models with the stored settings, or with the settings
// in the request body when one is sent.
func (h *Handler) TestConnection(c *gin.Context) {
	var override *Settings
	if c.Request.ContentLength > 0 {
		st := h.svc.Settings.Load()
		if err := c.ShouldBindJSON(&st); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.invalid_request"})
			return
		}
		override = &st
	}
	models, err := h.svc.TestConnection(c.Request.Context(), override)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models": models})
}

// Generate runs a cycle now and returns its result.
func (h *Handler) Generate(c *gin.Context) {
	h.generate(c, TriggerManual)
}

// Retry re-runs a cycle after a failure, skipping the cache.
func (h *Handler) Retry(c *gin.Context) {
	h.generate(c, TriggerRetry)
}

func (h *Handler) generate(c *gin.Context, trigger string) {
	res, err := h.svc.Generate(c.Request.Context(), trigger)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// View returns the current indicator and options view.
func (h *Handler) View(c *gin.Context) {
	shown, text := h.svc.Indicator.State()
	c.JSON(http.StatusOK, gin.H{
		"indicator": gin.H{"shown": shown, "text": text},
		"options":   h.svc.View.Model(),
		"busy":      h.svc.Generator.Busy(),
	})
}

// Click applies a click on the option at :index.
func (h *Handler) Click(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index", "error_key": "error.invalid_index"})
		return
	}
	res, err := h.svc.Click(index)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Director returns the polling director's state.
func (h *Handler) Director(c *gin.Context) {
	if h.svc.Director == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "status": h.svc.Director.Status()})
}

// History lists recent cycles.
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.svc.Generator.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

// fail maps domain errors to status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	if apiErr, ok := llm.IsAPIError(err); ok {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           err.Error(),
			"error_key":       "error.upstream",
			"upstream_status": apiErr.StatusCode,
		})
		return
	}
	switch {
	case errors.Is(err, ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_key": "error.busy"})
	case errors.Is(err, llm.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_key": "error.not_configured"})
	case errors.Is(err, host.ErrNoBridge):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "error_key": "error.no_bridge"})
	case errors.Is(err, ErrNoSuchOption):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "error_key": "error.no_such_option"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
