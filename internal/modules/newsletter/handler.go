package newsletter

import (
	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/pkg/response"
)

// BroadcastDTO is the inbound shape for POST /newsletter.
type BroadcastDTO struct {
	Title     string `json:"title" binding:"required"`
	Text      string `json:"text" binding:"required"`
	DetailURL string `json:"detail_url"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.POST("/newsletter", authMW, h.broadcast)
}

func (h *Handler) broadcast(c *gin.Context) {
	var dto BroadcastDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Title and text are required")
		return
	}

	queued, err := h.svc.Send(c.Request.Context(), Broadcast{
		Title:     dto.Title,
		Text:      dto.Text,
		DetailURL: dto.DetailURL,
	})
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"queued": queued})
}
