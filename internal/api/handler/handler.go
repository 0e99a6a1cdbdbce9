package handler

import (
	"context"

	"github.com/d60-Lab/thought-board/internal/service"
)

// Pinger 健康检查依赖（*sql.DB 满足）
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	thoughts *service.ThoughtService
	deletes  *service.DeleteService
	sweeper  *service.Sweeper
	recovery *service.RecoveryRunner
	db       Pinger
}

func New(thoughts *service.ThoughtService, deletes *service.DeleteService, sweeper *service.Sweeper, recovery *service.RecoveryRunner, db Pinger) *Handler {
	return &Handler{thoughts: thoughts, deletes: deletes, sweeper: sweeper, recovery: recovery, db: db}
}
