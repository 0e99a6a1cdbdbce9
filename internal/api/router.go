package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/internal/api/handler"
	"github.com/d60-Lab/thought-board/internal/api/middleware"
	"github.com/d60-Lab/thought-board/pkg/monitor"
)

// NewRouter 注册所有路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(monitor.Recovery())
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(middleware.RequestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/thoughts", h.ListThoughts)
		v1.GET("/thoughts/:id", h.GetThought)
	}

	admin := v1.Group("/admin", middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer))
	{
		admin.POST("/recovery", h.StartRecovery)
		admin.GET("/recovery/:run_id", h.RecoveryStatus)
		admin.POST("/sweep", h.Sweep)
		admin.DELETE("/thoughts/:id", h.PurgeThought)
	}
	return r
}
