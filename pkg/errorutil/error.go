package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误类别（订单引擎的错误分类）
type Kind string

const (
	KindSubscription       Kind = "SUBSCRIPTION_ERROR"
	KindIllegalTransition  Kind = "ILLEGAL_TRANSITION"
	KindNotFound           Kind = "NOT_FOUND"
	KindWriteFailed        Kind = "WRITE_FAILED"
	KindStreamInterrupted  Kind = "STREAM_INTERRUPTED"
	KindSubeffectFailed    Kind = "NOTIFICATION_SUBEFFECT_FAILED"
	KindNotAttached        Kind = "NOT_ATTACHED"
	KindTransitionInFlight Kind = "TRANSITION_IN_FLIGHT"
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindInternal           Kind = "INTERNAL"
)

// 哨兵错误，配合 errors.Is 按类别匹配
var (
	ErrSubscription       = &Error{Kind: KindSubscription}
	ErrIllegalTransition  = &Error{Kind: KindIllegalTransition}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrWriteFailed        = &Error{Kind: KindWriteFailed}
	ErrStreamInterrupted  = &Error{Kind: KindStreamInterrupted}
	ErrSubeffectFailed    = &Error{Kind: KindSubeffectFailed}
	ErrNotAttached        = &Error{Kind: KindNotAttached}
	ErrTransitionInFlight = &Error{Kind: KindTransitionInFlight}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
)

// Error 错误结构（包含可重试标记）
type Error struct {
	Kind       Kind   `json:"kind"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`
	cause      error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 按 Kind 匹配，使 errors.Is(err, ErrNotFound) 可用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, code int, retryable bool, message string, cause error) *Error {
	e := &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		cause:     cause,
	}
	if cause != nil {
		e.DevDetails = fmt.Sprintf("%+v", cause)
	}
	return e
}

// SubscriptionFailed 传输层无法打开订阅（由 Attach 的调用方决定是否重试）
func SubscriptionFailed(storeID string, cause error) *Error {
	return newError(KindSubscription, 503, true, fmt.Sprintf("subscribe orders for store %s failed", storeID), cause)
}

// IllegalTransition 本地状态机拒绝了该动作，未发起写入
func IllegalTransition(orderID, from, to string) *Error {
	return newError(KindIllegalTransition, 409, false,
		fmt.Sprintf("order %s cannot move from %s to %s", orderID, from, to), nil)
}

// NotFound 本地视图中没有该订单
func NotFound(orderID string) *Error {
	return newError(KindNotFound, 404, false, fmt.Sprintf("order %s not found", orderID), nil)
}

// WriteFailed 远端写入失败，本地状态保持不变
func WriteFailed(orderID string, cause error) *Error {
	return newError(KindWriteFailed, 502, true, fmt.Sprintf("write status for order %s failed", orderID), cause)
}

// StreamInterrupted 订阅流中断，保留最后一次已知的本地状态
func StreamInterrupted(storeID string, cause error) *Error {
	return newError(KindStreamInterrupted, 503, true, fmt.Sprintf("order stream for store %s interrupted", storeID), cause)
}

// SubeffectFailed 通知的某个子效果失败（仅记录日志，不向上传播）
func SubeffectFailed(effect string, cause error) *Error {
	return newError(KindSubeffectFailed, 500, false, fmt.Sprintf("notification %s failed", effect), cause)
}

// NotAttached 控制器当前未绑定任何门店
func NotAttached() *Error {
	return newError(KindNotAttached, 503, true, "no store attached", nil)
}

// TransitionInFlight 该订单已有一次写入尚未返回
func TransitionInFlight(orderID string) *Error {
	return newError(KindTransitionInFlight, 409, true, fmt.Sprintf("order %s has a transition in flight", orderID), nil)
}

// InvalidArgument 参数错误（不可重试）
func InvalidArgument(message string) *Error {
	return newError(KindInvalidArgument, 400, false, message, nil)
}

// Wrap 包装错误（自动判断是否可重试）
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	// 如果已经是 Error 类型，直接返回
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	// 默认为不可重试错误
	return newError(KindInternal, 500, false, "internal error", err)
}

// KindOf 返回错误类别，非 Error 类型返回 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Wrap(err).Kind
}
