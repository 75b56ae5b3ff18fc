package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/extractor-service/internal/models"
	"vasset/extractor-service/internal/resolver"
	"vasset/extractor-service/internal/utils"
)

const exhaustedDetail = "Unable to extract video. The video might be geo-blocked or the URL is invalid."

// VideoExtractor 解析编排
type VideoExtractor interface {
	Extract(ctx context.Context, rawURL string) (*resolver.MediaDescriptor, error)
}

// VideoHandler 视频解析处理器
type VideoHandler struct {
	extractor VideoExtractor
	logger    *zap.Logger
}

// NewVideoHandler 创建视频解析处理器
func NewVideoHandler(extractor VideoExtractor, logger *zap.Logger) *VideoHandler {
	return &VideoHandler{extractor: extractor, logger: logger}
}

// GetVideoURL GET /get-video-url?video_url=...
func (h *VideoHandler) GetVideoURL(c *gin.Context) {
	raw := c.Query("video_url")
	if raw == "" {
		models.BadRequest(c, "video_url is required")
		return
	}

	// 客户端常把整个地址再编码一次
	videoURL := utils.DecodeQueryValue(raw)

	desc, err := h.extractor.Extract(c.Request.Context(), videoURL)
	if err != nil {
		code, detail := ErrorStatus(err)
		h.logger.Info("get-video-url failed",
			zap.String("video_url", videoURL),
			zap.Int("status", code),
			zap.Error(err),
		)
		models.Error(c, code, detail)
		return
	}

	models.Success(c, desc)
}

var rejections = []error{
	utils.ErrVideoNotFound,
	utils.ErrVideoPrivate,
	utils.ErrVideoDeleted,
	utils.ErrGeoRestricted,
	utils.ErrAgeRestricted,
	utils.ErrCopyrightClaim,
}

// ErrorStatus 将编排结果映射为 HTTP 状态码和 detail
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, utils.ErrExhausted):
		return http.StatusServiceUnavailable, exhaustedDetail
	case utils.IsFatal(err):
		return http.StatusInternalServerError, "extraction backend unavailable"
	case errors.Is(err, utils.ErrInvalidURL):
		return http.StatusBadRequest, "invalid video URL"
	}

	for _, target := range rejections {
		if errors.Is(err, target) {
			return http.StatusBadRequest, target.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}
