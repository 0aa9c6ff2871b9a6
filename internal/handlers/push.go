package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type pushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type pushSubscribeRequest struct {
	ExpertID string            `json:"expert_id" binding:"required"`
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     pushSubscribeKeys `json:"keys" binding:"required"`
}

type pushUnsubscribeRequest struct {
	ExpertID string `json:"expert_id" binding:"required"`
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handlers) pushEnabled(c *gin.Context) bool {
	if h.push == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "push notifications are disabled"})
		return false
	}
	return true
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.push.PublicKey()})
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.directory.Lookup(req.ExpertID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "expert not found"})
		return
	}

	sub, err := h.push.Subscribe(c.Request.Context(), req.ExpertID, req.Endpoint, req.Keys.P256DH, req.Keys.Auth)
	if err != nil {
		h.writePushError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	var req pushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.push.Unsubscribe(c.Request.Context(), req.ExpertID, req.Endpoint); err != nil {
		h.writePushError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed"})
}
