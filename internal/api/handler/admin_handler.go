package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/api/middleware"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/response"
)

type recoveryRequest struct {
	GuildID    string   `json:"guild_id"`
	ChannelIDs []string `json:"channel_ids" binding:"required,min=1,dive,required"`
	OperatorID string   `json:"operator_id"`
}

// StartRecovery 提交异步恢复任务
// @Summary 从频道历史恢复帖子
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body recoveryRequest true "恢复范围"
// @Success 202 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/admin/recovery [post]
func (h *Handler) StartRecovery(c *gin.Context) {
	var req recoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	operator := req.OperatorID
	if operator == "" {
		operator = middleware.OperatorID(c)
	}
	id, err := h.recovery.Enqueue(service.RecoveryRequest{
		GuildID:    req.GuildID,
		ChannelIDs: req.ChannelIDs,
		OperatorID: operator,
	})
	if errors.Is(err, service.ErrRecoveryQueueFull) || errors.Is(err, service.ErrRunnerStopped) {
		response.Unavailable(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, "could not start recovery")
		return
	}
	logger.Info("recovery requested", zap.String("run_id", id), zap.String("operator", operator))
	response.Accepted(c, gin.H{"run_id": id})
}

// RecoveryStatus 查询恢复任务
// @Summary 恢复任务状态
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param run_id path string true "任务 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/admin/recovery/{run_id} [get]
func (h *Handler) RecoveryStatus(c *gin.Context) {
	run, err := h.recovery.Status(c.Param("run_id"))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, run)
}

// Sweep 立即执行一次保留期清理
// @Summary 手动清理
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/admin/sweep [post]
func (h *Handler) Sweep(c *gin.Context) {
	report, err := h.sweeper.RunOnce(c.Request.Context())
	if errors.Is(err, service.ErrSweepRunning) {
		response.Conflict(c, err.Error())
		return
	}
	if err != nil {
		logger.Error("manual sweep failed", zap.Error(err))
		response.InternalError(c, "sweep failed")
		return
	}
	response.Success(c, report)
}

// PurgeThought 管理员删除任意帖子（含远端卡片）
// @Summary 删除帖子
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "帖子 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/admin/thoughts/{id} [delete]
func (h *Handler) PurgeThought(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	outcome, err := h.deletes.Purge(c.Request.Context(), id)
	if err != nil {
		logger.Error("purge thought", zap.Uint64("post_id", id), zap.Error(err))
		response.InternalError(c, service.UserMessage(err))
		return
	}
	if outcome == service.DeleteNotFoundOrForbidden {
		response.NotFound(c, "thought not found")
		return
	}
	logger.Info("thought purged", zap.Uint64("post_id", id), zap.String("operator", middleware.OperatorID(c)))
	response.Success(c, gin.H{"outcome": outcome})
}
