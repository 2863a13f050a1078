package subscription

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/models"
	"github.com/mailblog/core/internal/pkg/response"
)

// SubscribeDTO is the strict inbound shape for POST /subscribe.
type SubscribeDTO struct {
	Email string `json:"email" binding:"required"`
}

// Handler wires the public subscription endpoints and the admin surface.
type Handler struct {
	svc   *Service
	store *GormStore
}

func NewHandler(svc *Service, store *GormStore) *Handler {
	return &Handler{svc: svc, store: store}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.POST("/subscribe", h.subscribe)
	rg.GET("/verify", h.verify)           // ?email=...&token=...
	rg.GET("/unsubscribe", h.unsubscribe) // ?email=...&token=...

	admin := rg.Group("/subscribers", authMW)
	admin.GET("", h.list)
	admin.GET("/stats", h.stats)
	admin.DELETE("/batch", h.batchUnsubscribe)
}

func (h *Handler) subscribe(c *gin.Context) {
	var dto SubscribeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Email is required")
		return
	}
	h.respond(c, h.svc.Subscribe(c.Request.Context(), dto.Email))
}

func (h *Handler) verify(c *gin.Context) {
	email := c.Query("email")
	token := c.Query("token")
	if email == "" || token == "" {
		response.BadRequest(c, "Email and token are required")
		return
	}
	h.respond(c, h.svc.Verify(c.Request.Context(), email, token))
}

func (h *Handler) unsubscribe(c *gin.Context) {
	email := c.Query("email")
	token := c.Query("token")
	if email == "" || token == "" {
		response.BadRequest(c, "Email and token are required")
		return
	}
	h.respond(c, h.svc.Unsubscribe(c.Request.Context(), email, token))
}

// respond maps a state machine outcome onto the message envelope. Validation
// outcomes stay 4xx; only store trouble becomes a 500.
func (h *Handler) respond(c *gin.Context, res Result) {
	switch res.Code {
	case CodeOK:
		response.Message(c, res.Message)
	case CodeInvalidEmail, CodeInvalidToken:
		response.BadRequest(c, res.Message)
	case CodeNotFound:
		response.NotFoundMsg(c, res.Message)
	default:
		response.InternalError(c, errStoreUnavailable)
	}
}

type subscriberItem struct {
	Email     string                    `json:"email"`
	Status    models.SubscriptionStatus `json:"status"`
	CreatedAt time.Time                 `json:"created"`
	UpdatedAt time.Time                 `json:"modified"`
}

func (h *Handler) list(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	recs, total, err := h.store.List(c.Request.Context(), page, size)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]subscriberItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, subscriberItem{
			Email:     rec.Email,
			Status:    rec.Status,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}

	totalPage := int((total + int64(size) - 1) / int64(size))
	response.Paged(c, items, response.Pagination{
		Total:       total,
		CurrentPage: page,
		TotalPage:   totalPage,
		Size:        size,
		HasNextPage: page < totalPage,
	})
}

func (h *Handler) stats(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	response.OK(c, gin.H{
		"total":        total,
		"pending":      counts[models.StatusPending],
		"confirmed":    counts[models.StatusConfirmed],
		"unsubscribed": counts[models.StatusUnsubscribed],
	})
}

func (h *Handler) batchUnsubscribe(c *gin.Context) {
	var body struct {
		Emails []string `json:"emails"`
		All    bool     `json:"all"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	affected, err := h.store.ForceUnsubscribe(c.Request.Context(), body.Emails, body.All)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"affected": affected})
}
