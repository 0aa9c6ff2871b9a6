package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/models"
	"github.com/tariel-x/livedesk/internal/session"
)

type createSessionRequest struct {
	ExpertID      string `json:"expert_id" binding:"required"`
	RequesterName string `json:"requester_name"`
	Topic         string `json:"topic"`
	Note          string `json:"note"`
	TTLSeconds    any    `json:"ttl_seconds"`
}

type createSessionResponse struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// inviteResponse is an invite with its derived deadline fields.
type inviteResponse struct {
	models.Invite
	ExpiresAt   int64 `json:"expiresAt"`
	RemainingMs int64 `json:"remainingMs"`
}

func newInviteResponse(inv models.Invite, now time.Time) inviteResponse {
	inv.Expire(now)
	return inviteResponse{
		Invite:      inv,
		ExpiresAt:   inv.ExpiresAt().UnixMilli(),
		RemainingMs: inv.Remaining(now).Milliseconds(),
	}
}

func newInviteResponses(list []models.Invite, now time.Time) []inviteResponse {
	out := make([]inviteResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, newInviteResponse(inv, now))
	}
	return out
}

func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var location string
	ctx := session.WithNavigator(c.Request.Context(), session.NavigatorFunc(func(_ context.Context, target string) {
		location = target
	}))

	id, err := h.originator.CreateInvite(ctx, session.Request{
		ExpertID:      req.ExpertID,
		RequesterName: req.RequesterName,
		Topic:         req.Topic,
		Note:          req.Note,
		TTL:           req.TTLSeconds,
	})
	if err != nil {
		h.log.Error("failed to create invite", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invite"})
		return
	}

	c.Header("Location", location)
	c.JSON(http.StatusCreated, createSessionResponse{ID: id, Location: location})
}

// GetChat returns the invite behind a chat room as the desk last saw it.
func (h *Handlers) GetChat(c *gin.Context) {
	inv, ok := h.desk.Invite(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
		return
	}
	c.JSON(http.StatusOK, newInviteResponse(inv, h.nowFn()))
}
