package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/livedesk/internal/models"
)

type clientConfigResponse struct {
	Debug             bool  `json:"debug"`
	Broadcast         bool  `json:"broadcast"`
	TickIntervalMs    int64 `json:"tick_interval_ms"`
	MinTTLSeconds     int   `json:"min_ttl_seconds"`
	MaxTTLSeconds     int   `json:"max_ttl_seconds"`
	DefaultTTLSeconds int   `json:"default_ttl_seconds"`
	Push              bool  `json:"push"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	resp := clientConfigResponse{
		Broadcast:         h.bus.Enabled(),
		MinTTLSeconds:     models.MinTTLSeconds,
		MaxTTLSeconds:     models.MaxTTLSeconds,
		DefaultTTLSeconds: models.DefaultTTLSeconds,
		Push:              h.push != nil,
	}
	if h.config != nil {
		resp.Debug = h.config.Log.Level == "debug"
		resp.TickIntervalMs = h.config.Inbox.TickInterval.Milliseconds()
	}
	if h.scheduler != nil {
		resp.TickIntervalMs = h.scheduler.Interval().Milliseconds()
	}
	c.JSON(http.StatusOK, resp)
}
