package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/livedesk/internal/inbox"
)

func (h *Handlers) ListInbox(c *gin.Context) {
	q := inbox.Query{
		Sort:   c.DefaultQuery("sort", inbox.SortCreated),
		Status: c.Query("status"),
		Unread: c.Query("unread") == "true" || c.Query("unread") == "1",
		Text:   c.Query("q"),
	}
	items := h.desk.Items(q)
	snap := h.desk.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"items":  newInviteResponses(items, h.nowFn()),
		"unread": snap.Unread,
	})
}

func (h *Handlers) GetInboxSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.desk.Summary())
}

func (h *Handlers) AcceptInvite(c *gin.Context) {
	h.applyDecision(c, h.desk.Accept)
}

func (h *Handlers) DeclineInvite(c *gin.Context) {
	h.applyDecision(c, h.desk.Decline)
}

func (h *Handlers) MarkInviteRead(c *gin.Context) {
	h.applyDecision(c, h.desk.MarkRead)
}

func (h *Handlers) applyDecision(c *gin.Context, op func(ctx context.Context, id string) error) {
	id := c.Param("id")
	if err := op(c.Request.Context(), id); err != nil {
		h.writeInboxError(c, err)
		return
	}
	inv, _ := h.desk.Invite(id)
	c.JSON(http.StatusOK, newInviteResponse(inv, h.nowFn()))
}
