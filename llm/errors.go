package llm

import (
	"errors"
	"fmt"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "LLM_INVALID_REQUEST"    // 参数/格式错误，调用方问题
	ErrUnauthorized     ErrorCode = "LLM_UNAUTHORIZED"       // 凭证无效或权限不足
	ErrRateLimited      ErrorCode = "LLM_RATE_LIMITED"       // 上游限流
	ErrUpstreamError    ErrorCode = "LLM_UPSTREAM_ERROR"     // 上游 5xx/网络错误
	ErrResponseParse    ErrorCode = "LLM_RESPONSE_PARSE"     // 无法解析上游响应信封
	ErrTimeout          ErrorCode = "LLM_TIMEOUT"            // 整体时间预算耗尽
	ErrRetriesExhausted ErrorCode = "LLM_RETRIES_EXHAUSTED"  // 重试次数耗尽
	ErrInternal         ErrorCode = "LLM_INTERNAL"           // 网关内部错误
)

// Error 结构化错误
// Cause 仅用于日志诊断，不参与 JSON 序列化，避免把上游原始细节
//（可能含敏感信息）泄露给调用方。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层原因
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建指定错误码的错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 附加底层原因
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 设置对应的 HTTP 状态码
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 标记错误是否可重试
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider 记录产生错误的 Provider
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable 判断错误是否可重试
// 非 *Error 的错误一律视为不可重试，由调用方显式分类。
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode 提取错误码，非 *Error 返回空串
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
