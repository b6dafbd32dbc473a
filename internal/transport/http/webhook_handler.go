package httptransport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/service"
)

// WebhookHandler 处理邮件服务商回调，不经过会话校验，只认签名
type WebhookHandler struct {
	webhooks *service.WebhookService
	log      *zap.Logger
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(webhooks *service.WebhookService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, log: log}
}

// Info godoc
// @Summary 回调端点信息
// @Tags Webhook
// @Produce json
// @Router /api/admin/emails/webhook [get]
func (h *WebhookHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "active",
		"endpoint": "/api/admin/emails/webhook",
		"events":   service.SupportedWebhookEvents,
	})
}

// Receive godoc
// @Summary 接收服务商回调
// @Description 先验证 svix 签名再写入，投递状态只前进不后退
// @Tags Webhook
// @Accept json
// @Produce json
// @Success 200 {object} object{received=bool}
// @Failure 401 {object} Response
// @Router /api/admin/emails/webhook [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, "No se pudo leer el cuerpo")
		return
	}

	if err := h.webhooks.Verify(payload, c.Request.Header); err != nil {
		h.log.Warn("webhook signature rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
		Unauthorized(c, MsgInvalidSignature)
		return
	}

	var ev service.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	ev.Raw = payload

	if err := h.webhooks.Handle(c.Request.Context(), ev); err != nil {
		h.log.Error("webhook processing failed", zap.String("type", ev.Type), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
