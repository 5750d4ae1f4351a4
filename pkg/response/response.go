package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	Respond(c, http.StatusOK, CodeSuccess, "success", data)
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	Respond(c, httpCode, errCode, msg, nil)
}

// Respond 输出任意 HTTP 状态码、业务码和数据
// 例如 202 + 待对账订单信息
func Respond(c *gin.Context, httpCode int, errCode int, msg string, data interface{}) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    data,
	})
}
