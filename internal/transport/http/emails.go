package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/middleware"
	"juninpagos/backend/internal/service"
)

// EmailHandler 处理邮件列表、编辑、删除、发送和计数
type EmailHandler struct {
	emails *service.EmailService
	log    *zap.Logger
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(emails *service.EmailService, log *zap.Logger) *EmailHandler {
	return &EmailHandler{emails: emails, log: log}
}

type emailPatchRequest struct {
	ID string `json:"id"`
	domain.EmailPatch
}

type emailDeleteRequest struct {
	ID        string `json:"id"`
	Permanent bool   `json:"permanent"`
}

// List godoc
// @Summary 邮件列表
// @Tags Emails
// @Produce json
// @Param folder query string false "inbox, sent, drafts, archived, trash"
// @Param status query string false "邮件状态"
// @Param lead_id query int false "线索 ID"
// @Param is_starred query bool false "只看星标"
// @Param search query string false "主题、收件人或发件人"
// @Param page query int false "页码"
// @Param limit query int false "每页数量，最大 100"
// @Success 200 {object} Response{data=[]domain.Email,meta=Meta}
// @Router /api/admin/emails/list [get]
func (h *EmailHandler) List(c *gin.Context) {
	filter := service.EmailFilter{
		Folder: c.Query("folder"),
		Status: c.Query("status"),
		Search: c.Query("search"),
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	if raw := c.Query("lead_id"); raw != "" {
		leadID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			BadRequest(c, "lead_id inválido")
			return
		}
		filter.LeadID = &leadID
	}
	if c.Query("is_starred") == "true" {
		starred := true
		filter.IsStarred = &starred
	}

	result, err := h.emails.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMeta(c, result.Items, pageMeta(result))
}

// Patch godoc
// @Summary 编辑邮件
// @Description 仅允许 subject, body_html, body_text, is_archived, is_starred, folder
// @Tags Emails
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=domain.Email}
// @Router /api/admin/emails/list [patch]
func (h *EmailHandler) Patch(c *gin.Context) {
	var req emailPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	email, err := h.emails.Patch(c.Request.Context(), req.ID, req.EmailPatch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "Email actualizado", email)
}

// Delete godoc
// @Summary 删除邮件
// @Description 默认移到回收站，permanent=true 时永久删除
// @Tags Emails
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/admin/emails/list [delete]
func (h *EmailHandler) Delete(c *gin.Context) {
	var req emailDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	email, err := h.emails.Delete(c.Request.Context(), req.ID, req.Permanent)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.Permanent {
		SuccessWithMsg(c, MsgEmailDeleted, nil)
		return
	}
	SuccessWithMsg(c, MsgEmailMovedToTrash, email)
}

// Send godoc
// @Summary 撰写并发送邮件
// @Description save_as_draft 保存草稿，scheduled_at 为将来时间时排队发送，template_id 触发变量替换
// @Tags Emails
// @Accept json
// @Produce json
// @Param request body service.SendInput true "邮件内容"
// @Success 200 {object} Response{data=service.SendResult}
// @Router /api/admin/emails/send [post]
func (h *EmailHandler) Send(c *gin.Context) {
	var in service.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	in.AdminUserID = c.GetString(middleware.ContextUserID)

	result, err := h.emails.Send(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, result.Message, result)
}

// Counts godoc
// @Summary 各文件夹计数
// @Tags Emails
// @Produce json
// @Success 200 {object} Response{data=domain.FolderCounts}
// @Router /api/admin/emails/counts [get]
func (h *EmailHandler) Counts(c *gin.Context) {
	counts, err := h.emails.Counts(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, counts)
}
