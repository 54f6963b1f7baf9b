package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 引擎专用错误码（与通用 HTTP 码区分，便于客户端按错误类别分支）
const (
	CodeInvalidInput        = 40001 // 图片损坏/超限、缺少必填字段，不重试
	CodeProviderUnavailable = 50301 // 嵌入/抽取后端不可用，有限重试后上抛
	CodeDimensionMismatch   = 50002 // 向量维度与配置不符，配置级告警
	CodeInconsistency       = 50003 // Item Store 与 Vector Index 不一致
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")

	ErrInvalidInput        = New(CodeInvalidInput, "输入不合法")
	ErrProviderUnavailable = New(CodeProviderUnavailable, "模型服务暂不可用，请稍后重试")
	ErrDimensionMismatch   = New(CodeDimensionMismatch, "向量维度不匹配")
	ErrNotFound            = New(NotFound, "资源不存在")
	ErrInconsistency       = New(CodeInconsistency, "索引与存储不一致")
)

// Is 判断 err 是否为指定错误码的 CodeError
func Is(err error, code int) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsRetryable ProviderUnavailable 是唯一允许有限重试的错误类别
func IsRetryable(err error) bool {
	return Is(err, CodeProviderUnavailable)
}

// Wrap 保留错误码，替换为更具体的描述
func Wrap(base *CodeError, msg string) *CodeError {
	return &CodeError{Code: base.Code, Message: msg}
}
