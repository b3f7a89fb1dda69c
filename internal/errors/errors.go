package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrConflict         ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006

	// 会话错误 (2000-2999)
	ErrSessionClosed ErrorCode = 2000
	ErrPhaseInvalid  ErrorCode = 2001
	ErrGroupMismatch ErrorCode = 2002
	ErrQueueFull     ErrorCode = 2003

	// 通信错误 (4000-4999)
	ErrWebSocketConnect ErrorCode = 4000
	ErrWebSocketSend    ErrorCode = 4001
	ErrWebSocketClosed  ErrorCode = 4003
	ErrMessageFormat    ErrorCode = 4007
	ErrUnknownCommand   ErrorCode = 4008

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrDatabaseDelete  ErrorCode = 5004

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrAuthorization  ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrConflict:         "资源冲突",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",

	ErrSessionClosed: "会话已结束",
	ErrPhaseInvalid:  "无效的阶段",
	ErrGroupMismatch: "小组不属于该会话",
	ErrQueueFull:     "会话命令队列已满",

	ErrWebSocketConnect: "WebSocket连接失败",
	ErrWebSocketSend:    "WebSocket发送失败",
	ErrWebSocketClosed:  "WebSocket连接已关闭",
	ErrMessageFormat:    "消息格式错误",
	ErrUnknownCommand:   "未知的命令",

	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseUpdate:  "数据库更新失败",
	ErrDatabaseDelete:  "数据库删除失败",

	ErrAuthentication: "认证失败",
	ErrAuthorization:  "授权失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误，已是AppError时保留原错误码
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	wrapped := New(code, details...)
	wrapped.Cause = err
	if wrapped.Details == "" {
		wrapped.Details = err.Error()
	}

	return wrapped
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// As 提取错误链中的AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrUnknown
}

// PublicMessage 返回可以下发给客户端的错误描述，非AppError不泄露内部信息
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok {
		if appErr.Details != "" && appErr.Cause == nil {
			return appErr.Message + ": " + appErr.Details
		}
		return appErr.Message
	}
	return errorMessages[ErrUnknown]
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()

		// 跳过runtime和本包的调用
		if !strings.Contains(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "carbon-cards/internal/errors.") {
			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}

		if !more || len(e.Stack) >= 10 {
			break
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}
	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam, e.Code == ErrMessageFormat, e.Code == ErrPhaseInvalid,
		e.Code == ErrGroupMismatch, e.Code == ErrUnknownCommand:
		return 400
	case e.Code == ErrNotFound:
		return 404
	case e.Code == ErrConflict, e.Code == ErrSessionClosed:
		return 409
	case e.Code == ErrPermissionDenied, e.Code == ErrAuthorization:
		return 403
	case e.Code == ErrTimeout:
		return 408
	case e.Code == ErrQueueFull:
		return 429
	case e.Code >= 7000 && e.Code <= 7999:
		return 401
	case e.Code >= 5000 && e.Code <= 5999:
		return 503
	default:
		return 500
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrTimeout, ErrQueueFull, ErrWebSocketConnect, ErrWebSocketClosed, ErrDatabaseConnect:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
