// Package monitor wires error reporting to Sentry. Every helper is a no-op
// until Init has been called with a DSN.
package monitor

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/response"
)

var enabled bool

// Init 初始化 Sentry，DSN 为空时跳过
func Init(cfg config.SentryConfig, release string) error {
	if cfg.DSN == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	enabled = true
	return nil
}

// CaptureError 上报内部错误
func CaptureError(err error) {
	if !enabled || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// Flush 退出前等待事件发送
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}

// Recovery gin 中间件：panic 时上报 Sentry 并返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if enabled {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(c.Request)
					hub.Recover(r)
				}
				logger.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				response.InternalError(c, "internal error")
			}
		}()
		c.Next()
	}
}
