package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/service"
)

// LeadHandler 处理线索管理接口
type LeadHandler struct {
	leads *service.LeadService
	log   *zap.Logger
}

// NewLeadHandler 创建线索处理器
func NewLeadHandler(leads *service.LeadService, log *zap.Logger) *LeadHandler {
	return &LeadHandler{leads: leads, log: log}
}

type leadIDRequest struct {
	ID int64 `json:"id"`
}

type leadPatchRequest struct {
	ID     int64              `json:"id"`
	Estado *domain.LeadStatus `json:"estado"`
	Notas  *string            `json:"notas"`
}

// List godoc
// @Summary 线索列表
// @Tags Leads
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量，最大 1000"
// @Param sortBy query string false "created_at, nombre, localidad, estado"
// @Param sortOrder query string false "asc 或 desc"
// @Success 200 {object} Response{data=[]domain.Lead,meta=Meta}
// @Router /api/admin/leads/list [get]
func (h *LeadHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.leads.List(c.Request.Context(), service.LeadListFilter{
		Page:      page,
		Limit:     limit,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMeta(c, result.Items, pageMeta(result))
}

// Update godoc
// @Summary 更新线索状态或备注
// @Tags Leads
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=domain.Lead}
// @Router /api/admin/leads/list [patch]
func (h *LeadHandler) Update(c *gin.Context) {
	var req leadPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.ID == 0 {
		BadRequest(c, "ID de lead requerido")
		return
	}

	lead, err := h.leads.Update(c.Request.Context(), req.ID, service.LeadUpdateInput{
		Estado: req.Estado,
		Notas:  req.Notas,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "Lead actualizado correctamente", lead)
}

// Delete godoc
// @Summary 删除线索
// @Tags Leads
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/admin/leads/list [delete]
func (h *LeadHandler) Delete(c *gin.Context) {
	var req leadIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.ID == 0 {
		BadRequest(c, "ID de lead requerido")
		return
	}

	if err := h.leads.Delete(c.Request.Context(), req.ID); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgLeadDeleted, nil)
}

// Export 旧版导出接口，由 bootstrap key 保护，返回 {leads: [...]}
func (h *LeadHandler) Export(c *gin.Context) {
	leads, err := h.leads.ListAll(c.Request.Context())
	if err != nil {
		h.log.Error("failed to export leads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error obteniendo leads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads})
}

func pageMeta[T any](p service.Page[T]) Meta {
	return Meta{Page: p.Page, Limit: p.Limit, Total: p.Total, TotalPages: p.TotalPages}
}
