package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/response"
)

type listRequest struct {
	Author   string `form:"author" binding:"omitempty,max=32,numeric"`
	Query    string `form:"q" binding:"max=200"`
	Category string `form:"category" binding:"max=64"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Size     int    `form:"size" binding:"omitempty,min=1,max=50"`
}

// Health 存活与数据库连通性
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			response.Unavailable(c, "database unavailable")
			return
		}
	}
	response.Success(c, gin.H{"status": "ok"})
}

// ListThoughts 公共帖子列表与搜索（不含私密帖子）
// @Summary 帖子列表
// @Tags 帖子
// @Produce json
// @Param author query string false "作者 ID"
// @Param q query string false "内容关键字"
// @Param category query string false "分类"
// @Param page query int false "页码，从 1 开始"
// @Param size query int false "每页数量，最大 50"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/thoughts [get]
func (h *Handler) ListThoughts(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.thoughts.List(c.Request.Context(), service.ListQuery{
		AuthorID: req.Author,
		Text:     req.Query,
		Category: req.Category,
		Page:     req.Page,
		Size:     req.Size,
	})
	if err != nil {
		logger.Error("list thoughts", zap.Error(err))
		response.InternalError(c, service.UserMessage(err))
		return
	}
	response.Success(c, res)
}

// GetThought 获取单条公开帖子
// @Summary 帖子详情
// @Tags 帖子
// @Produce json
// @Param id path int true "帖子 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/thoughts/{id} [get]
func (h *Handler) GetThought(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	t, err := h.thoughts.Get(c.Request.Context(), id, "")
	if errors.Is(err, service.ErrNotFoundOrForbidden) {
		response.NotFound(c, "thought not found")
		return
	}
	if err != nil {
		logger.Error("get thought", zap.Uint64("post_id", id), zap.Error(err))
		response.InternalError(c, service.UserMessage(err))
		return
	}
	response.Success(c, t)
}

func postID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
