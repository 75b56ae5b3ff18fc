package models

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应, 与客户端约定的 {"detail": "..."} 格式
type ErrorResponse struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

// InfoResponse 根路径说明
type InfoResponse struct {
	Message string `json:"message"`
	Usage   string `json:"usage"`
}

// Success 成功响应, 直接输出数据本身
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error 错误响应
func Error(c *gin.Context, code int, detail string) {
	resp := ErrorResponse{Detail: detail}
	if rid, ok := c.Get("request_id"); ok {
		resp.RequestID, _ = rid.(string)
	}
	c.JSON(code, resp)
}

// BadRequest 请求错误
func BadRequest(c *gin.Context, detail string) {
	Error(c, http.StatusBadRequest, detail)
}

// TooManyRequests 限流
func TooManyRequests(c *gin.Context, detail string) {
	Error(c, http.StatusTooManyRequests, detail)
}

// InternalError 服务器错误
func InternalError(c *gin.Context, detail string) {
	Error(c, http.StatusInternalServerError, detail)
}
