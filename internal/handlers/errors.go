package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/inbox"
	"github.com/tariel-x/livedesk/internal/push"
)

func (h *Handlers) writeInboxError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inbox.ErrInviteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
	case errors.Is(err, inbox.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "invite is no longer pending"})
	default:
		h.log.Error("inbox operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handlers) writePushError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, push.ErrInvalidKeys):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, push.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
	default:
		h.log.Error("push operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push subscription failed"})
	}
}
