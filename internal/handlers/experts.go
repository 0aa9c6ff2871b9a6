package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/livedesk/internal/experts"
)

type expertResponse struct {
	experts.Expert
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
}

func (h *Handlers) expertResponse(e experts.Expert) expertResponse {
	return expertResponse{
		Expert:      e,
		DisplayName: h.directory.DisplayName(e.ID),
		Category:    experts.Category(e),
	}
}

func (h *Handlers) ListExperts(c *gin.Context) {
	list := h.directory.List(c.Query("category"))
	out := make([]expertResponse, 0, len(list))
	for _, e := range list {
		out = append(out, h.expertResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"experts": out})
}

func (h *Handlers) GetExpert(c *gin.Context) {
	e, ok := h.directory.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "expert not found"})
		return
	}
	c.JSON(http.StatusOK, h.expertResponse(e))
}
