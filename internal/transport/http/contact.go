package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/ratelimit"
	"juninpagos/backend/internal/service"
)

// ContactHandler 处理公开的联系表单
type ContactHandler struct {
	leads   *service.LeadService
	limiter *ratelimit.Limiter
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewContactHandler 创建联系表单处理器
func NewContactHandler(leads *service.LeadService, limiter *ratelimit.Limiter, metrics *monitoring.Metrics, log *zap.Logger) *ContactHandler {
	return &ContactHandler{leads: leads, limiter: limiter, metrics: metrics, log: log}
}

// Submit godoc
// @Summary 提交联系表单
// @Description 公开接口。先限流，再校验 X-Requested-With、Content-Type 和表单内容
// @Tags Public
// @Accept json
// @Produce json
// @Param request body service.ContactInput true "联系表单"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 415 {object} Response
// @Failure 429 {object} Response
// @Router /api/contact [post]
func (h *ContactHandler) Submit(c *gin.Context) {
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}

	// 1. 限流
	limit, err := h.limiter.Check(c.Request.Context(), ip)
	if err != nil {
		// 计数器不可用时放行，表单仍受后续校验保护
		h.log.Warn("rate limiter unavailable", zap.String("ip", ip), zap.Error(err))
		h.metrics.RecordError("rate_limiter", "contact")
		limit = ratelimit.Result{Allowed: true, Remaining: h.limiter.Max() - 1}
	}
	if !limit.Allowed {
		h.metrics.RecordContactRequest("rate_limited")
		resetSeconds := strconv.FormatInt(limit.ResetInSeconds(), 10)
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("X-RateLimit-Reset", resetSeconds)
		c.Header("Retry-After", resetSeconds)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":   false,
			"error":     MsgRateLimited,
			"remaining": 0,
			"resetIn":   limit.ResetInMillis(),
		})
		return
	}

	// 2. CSRF 防护
	if c.GetHeader("X-Requested-With") != "XMLHttpRequest" {
		h.metrics.RecordContactRequest("forbidden")
		Forbidden(c, MsgMissingRequestedBy)
		return
	}

	// 3. Content-Type
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		h.metrics.RecordContactRequest("unsupported_media")
		Error(c, http.StatusUnsupportedMediaType, MsgUnsupportedMedia)
		return
	}

	// 4. JSON
	var in service.ContactInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.metrics.RecordContactRequest("invalid")
		BadRequest(c, MsgInvalidJSON)
		return
	}

	// 5. 校验并保存
	if _, err := h.leads.Submit(c.Request.Context(), in, ip); err != nil {
		if errors.Is(err, service.ErrValidation) {
			h.metrics.RecordContactRequest("invalid")
			BadRequest(c, service.ValidationMessage(err))
			return
		}
		h.metrics.RecordContactRequest("error")
		h.log.Error("failed to save contact", zap.String("ip", ip), zap.Error(err))
		InternalError(c, "Error guardando los datos")
		return
	}

	h.metrics.RecordContactRequest("accepted")
	c.Header("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	c.JSON(http.StatusOK, Response{Success: true, Message: MsgContactAccepted})
}

// MethodNotAllowed 仅允许 POST
func (h *ContactHandler) MethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	Error(c, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
}
