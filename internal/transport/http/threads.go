package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/service"
)

// ThreadHandler 处理会话接口
type ThreadHandler struct {
	threads *service.ThreadService
	log     *zap.Logger
}

// NewThreadHandler 创建会话处理器
func NewThreadHandler(threads *service.ThreadService, log *zap.Logger) *ThreadHandler {
	return &ThreadHandler{threads: threads, log: log}
}

type openThreadRequest struct {
	ThreadID   string `json:"thread_id"`
	MarkAsRead bool   `json:"mark_as_read"`
}

type bulkThreadRequest struct {
	ThreadID  string `json:"thread_id"`
	Permanent bool   `json:"permanent"`
}

// List godoc
// @Summary 会话列表
// @Description inbox 返回含收到邮件的会话，sent 返回含发出邮件的会话，先过滤后分页
// @Tags Threads
// @Produce json
// @Param folder query string false "inbox 或 sent"
// @Param search query string false "主题关键字"
// @Param page query int false "页码"
// @Param limit query int false "每页数量，最大 100"
// @Success 200 {object} Response{data=[]service.ThreadView,meta=Meta}
// @Router /api/admin/emails/threads [get]
func (h *ThreadHandler) List(c *gin.Context) {
	folder := domain.EmailFolder(c.DefaultQuery("folder", string(domain.FolderInbox)))
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.threads.List(c.Request.Context(), service.ThreadFilter{
		Folder: folder,
		Search: c.Query("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMeta(c, result.Items, pageMeta(result))
}

// Open godoc
// @Summary 打开会话
// @Description 按时间正序返回会话中的邮件，mark_as_read=true 时把未读的收到邮件标为已读
// @Tags Threads
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=service.ThreadView}
// @Router /api/admin/emails/threads [post]
func (h *ThreadHandler) Open(c *gin.Context) {
	var req openThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	view, err := h.threads.Open(c.Request.Context(), req.ThreadID, req.MarkAsRead)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, view)
}

// Archive godoc
// @Summary 归档会话
// @Tags Threads
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=service.BulkResult}
// @Router /api/admin/emails/threads/archive [post]
func (h *ThreadHandler) Archive(c *gin.Context) {
	var req bulkThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.ThreadID == "" {
		BadRequest(c, "thread_id requerido")
		return
	}

	result, err := h.threads.Archive(c.Request.Context(), req.ThreadID)
	h.respondBulk(c, result, err, MsgThreadArchived)
}

// Delete godoc
// @Summary 删除会话
// @Description 默认把会话中的邮件移到回收站，permanent=true 时永久删除
// @Tags Threads
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=service.BulkResult}
// @Router /api/admin/emails/threads/delete [post]
func (h *ThreadHandler) Delete(c *gin.Context) {
	var req bulkThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if req.ThreadID == "" {
		BadRequest(c, "thread_id requerido")
		return
	}

	result, err := h.threads.Delete(c.Request.Context(), req.ThreadID, req.Permanent)
	h.respondBulk(c, result, err, MsgThreadDeleted)
}

// respondBulk 部分失败时返回 500，并附带每封邮件的结果
func (h *ThreadHandler) respondBulk(c *gin.Context, result *service.BulkResult, err error, okMsg string) {
	if err == nil {
		SuccessWithMsg(c, okMsg, result)
		return
	}
	if result == nil || len(result.Failed) == 0 {
		respondError(c, h.log, err)
		return
	}
	h.log.Error("bulk thread operation failed",
		zap.String("thread_id", result.ThreadID),
		zap.Int("failed", len(result.Failed)),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   "La operación falló para algunos emails",
		Data:    result,
	})
}
