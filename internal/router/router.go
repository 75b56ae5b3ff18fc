package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/handler"
	"vasset/extractor-service/internal/middleware"
)

// Dependencies 路由依赖
type Dependencies struct {
	Config    *config.Config
	Extractor handler.VideoExtractor
	Pool      handler.PoolInspector
	Cache     handler.Pinger // 未启用缓存时为 nil
	Logger    *zap.Logger
	Version   string
}

// SetupRouter 设置路由
func SetupRouter(deps *Dependencies) *gin.Engine {
	if deps.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(&deps.Config.CORS))

	videoHandler := handler.NewVideoHandler(deps.Extractor, deps.Logger)
	healthHandler := handler.NewHealthHandler(deps.Pool, deps.Cache, deps.Version)

	r.GET("/", healthHandler.Root)
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/live", healthHandler.Live)
	r.GET("/proxies", healthHandler.Proxies)

	api := r.Group("/")
	if deps.Config.RateLimit.Enabled {
		api.Use(middleware.IPRateLimit(middleware.NewRateLimiter(&deps.Config.RateLimit)))
	}
	api.GET("/get-video-url", videoHandler.GetVideoURL)

	return r
}
