package back

import (
	"net/http"

	"Nexus/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Result 统一返回入口
func Result(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	// 判断是否为自定义错误
	if e, ok := err.(*xerr.CodeError); ok {
		Error(c, e.Code, e.Message)
		return
	}

	// 默认为系统错误，不把内部细节透给客户端
	Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
}

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    xerr.OK,
		Message: "Success",
		Data:    data,
	})
}

// Error 错误返回，HTTP 状态码按错误类别映射
func Error(c *gin.Context, code int, message string) {
	c.JSON(httpStatus(code), Response{
		Code:    code,
		Message: message,
	})
}

// httpStatus 引擎错误码到 HTTP 状态码的映射
func httpStatus(code int) int {
	switch code {
	case xerr.NotFound:
		return http.StatusNotFound
	case xerr.Unauthorized:
		return http.StatusUnauthorized
	case xerr.BadRequest, xerr.CodeInvalidInput:
		return http.StatusBadRequest
	case xerr.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}
