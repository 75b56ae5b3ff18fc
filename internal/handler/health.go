package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vasset/extractor-service/internal/models"
	"vasset/extractor-service/internal/proxy"
)

// PoolInspector 代理池状态
type PoolInspector interface {
	Stats() proxy.Stats
	Verified() []proxy.VerifiedProxy
}

// Pinger 依赖健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	pool      PoolInspector
	cache     Pinger
	startTime time.Time
	version   string
}

// NewHealthHandler 创建健康检查处理器, cache 可以为 nil
func NewHealthHandler(pool PoolInspector, cache Pinger, version string) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		cache:     cache,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       int64             `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	ProxyPool    proxy.Stats       `json:"proxy_pool"`
}

// HealthCheck 健康检查
// Redis 只是缓存, 不可用时服务降级但仍可工作
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dependencies := make(map[string]string)
	status := "healthy"

	if h.cache == nil {
		dependencies["redis"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		dependencies["redis"] = "unhealthy"
		status = "degraded"
	} else {
		dependencies["redis"] = "healthy"
	}

	stats := h.pool.Stats()
	if stats.Verified == 0 {
		dependencies["proxy_pool"] = "empty"
	} else {
		dependencies["proxy_pool"] = "healthy"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:       status,
		Version:      h.version,
		Uptime:       int64(time.Since(h.startTime).Seconds()),
		Dependencies: dependencies,
		ProxyPool:    stats,
	})
}

// Live 存活检查
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// Proxies 已验证代理列表
func (h *HealthHandler) Proxies(c *gin.Context) {
	verified := h.pool.Verified()
	models.Success(c, gin.H{
		"count":   len(verified),
		"proxies": verified,
		"stats":   h.pool.Stats(),
	})
}

// Root 根路径说明
func (h *HealthHandler) Root(c *gin.Context) {
	models.Success(c, models.InfoResponse{
		Message: "Social Media Video API",
		Usage:   "GET /get-video-url?video_url=YOUR_VIDEO_URL",
	})
}
