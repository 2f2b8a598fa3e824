// Package response 统一 HTTP JSON 响应格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/mineralchain/pkg/logger"
	"github.com/wyfcoding/mineralchain/pkg/utils"
)

// Response 响应体
type Response struct {
	Code       int               `json:"code"`
	Message    string            `json:"message"`
	Data       any               `json:"data,omitempty"`
	Details    any               `json:"details,omitempty"`
	Pagination *utils.Pagination `json:"pagination,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

func requestID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(logger.RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data, RequestID: requestID(c)})
}

// Created 201 创建成功
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data, RequestID: requestID(c)})
}

// SuccessWithPagination 分页列表响应
func SuccessWithPagination(c *gin.Context, data any, p *utils.Pagination) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data, Pagination: p, RequestID: requestID(c)})
}

// ErrorWithStatus 错误响应，code 与 HTTP 状态码一致
func ErrorWithStatus(c *gin.Context, status int, message string, details any) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message, Details: details, RequestID: requestID(c)})
}
