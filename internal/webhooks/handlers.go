package webhooks

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/security"
	"github.com/mbd888/sentinel/internal/validation"
)

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store     Store
	endpoints security.EndpointPolicy
	now       func() time.Time
}

// NewHandler creates a new webhook handler. Subscription URLs must pass
// endpoints.
func NewHandler(store Store, endpoints security.EndpointPolicy) *Handler {
	return &Handler{store: store, endpoints: endpoints, now: time.Now}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL      string   `json:"url" validate:"required,url,max=2048"`
	Events   []string `json:"events" validate:"required,min=1,dive,oneof=assessment.approved assessment.review assessment.step_up assessment.blocked block.sealed"`
	Accounts []string `json:"accounts" validate:"omitempty,max=100,dive,required,max=128"`
}

// CreateWebhook handles POST /v1/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if err := validation.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}
	if err := h.endpoints.Validate(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !slices.Contains(events, et) {
			events = append(events, et)
		}
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Accounts:  req.Accounts,
		Active:    true,
		CreatedAt: h.now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("failed to create webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // Only shown once
		"usage": gin.H{
			"signature": "sha256=HMAC-SHA256(body, secret) in hex",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks handles GET /v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list webhooks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// GetWebhook handles GET /v1/webhooks/:id
func (h *Handler) GetWebhook(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to get webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get webhook",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": sub})
}

// DeleteWebhook handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to delete webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}
