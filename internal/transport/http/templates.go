package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/middleware"
	"juninpagos/backend/internal/service"
)

// TemplateHandler 处理邮件模板和邮箱账户接口
type TemplateHandler struct {
	templates *service.TemplateService
	accounts  *service.AccountService
	log       *zap.Logger
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(templates *service.TemplateService, accounts *service.AccountService, log *zap.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, accounts: accounts, log: log}
}

type templatePatchRequest struct {
	ID string `json:"id"`
	domain.TemplatePatch
}

type templateIDRequest struct {
	ID string `json:"id"`
}

// List godoc
// @Summary 模板列表
// @Tags Templates
// @Produce json
// @Param category query string false "分类"
// @Param active_only query bool false "默认 true"
// @Success 200 {object} Response{data=[]domain.EmailTemplate}
// @Router /api/admin/emails/templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	activeOnly := c.Query("active_only") != "false"
	templates, err := h.templates.List(c.Request.Context(), c.Query("category"), activeOnly)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, templates)
}

// Create godoc
// @Summary 创建模板
// @Tags Templates
// @Accept json
// @Produce json
// @Param request body service.TemplateInput true "模板"
// @Success 201 {object} Response{data=domain.EmailTemplate}
// @Failure 409 {object} Response
// @Router /api/admin/emails/templates [post]
func (h *TemplateHandler) Create(c *gin.Context) {
	var in service.TemplateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	in.CreatedBy = c.GetString(middleware.ContextUserID)

	tpl, err := h.templates.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(201, Response{Success: true, Data: tpl, Message: "Template creado correctamente"})
}

// Update godoc
// @Summary 更新模板
// @Tags Templates
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=domain.EmailTemplate}
// @Router /api/admin/emails/templates [patch]
func (h *TemplateHandler) Update(c *gin.Context) {
	var req templatePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	tpl, err := h.templates.Update(c.Request.Context(), req.ID, req.TemplatePatch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "Template actualizado", tpl)
}

// Delete godoc
// @Summary 删除模板
// @Tags Templates
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/admin/emails/templates [delete]
func (h *TemplateHandler) Delete(c *gin.Context) {
	var req templateIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	if err := h.templates.Delete(c.Request.Context(), req.ID); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgTemplateDeleted, nil)
}

// Accounts godoc
// @Summary 当前用户可用的邮箱账户
// @Tags Accounts
// @Produce json
// @Success 200 {object} Response{data=[]domain.AccountAccess}
// @Router /api/admin/emails/accounts [get]
func (h *TemplateHandler) Accounts(c *gin.Context) {
	accounts, err := h.accounts.ListForUser(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, accounts)
}
