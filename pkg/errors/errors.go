package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	Stack      string            `json:"-"`

	pcs []uintptr
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string)
	}
	newErr.Details[key] = value
	return newErr
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	newErr.capture(3)
	return newErr
}

// WithMessagef 格式化替换错误消息
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	newErr := e.Copy()
	newErr.Message = fmt.Sprintf(format, args...)
	newErr.capture(3)
	return newErr
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		GRPCCode:   e.GRPCCode,
		Cause:      e.Cause,
		Stack:      e.Stack,
		pcs:        e.pcs,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

// Frames 返回调用栈前 n 帧，格式 "func file:line"
func (e *Error) Frames(n int) []string {
	if len(e.pcs) == 0 || n <= 0 {
		return nil
	}
	return formatFrames(e.pcs, n)
}

// IsClientError 领域规则违反 (4xx)，与基础设施故障 (5xx) 区分
func (e *Error) IsClientError() bool {
	return e.HTTPStatus >= 400 && e.HTTPStatus < 500
}

// MarshalJSON 实现 json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error,omitempty"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

func (e *Error) capture(skip int) {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	e.pcs = append([]uintptr(nil), pcs[:n]...)
	e.Stack = strings.Join(formatFrames(e.pcs, n), "\n")
}

func formatFrames(pcs []uintptr, limit int) []string {
	frames := runtime.CallersFrames(pcs)
	out := make([]string, 0, limit)
	for len(out) < limit {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}

// New 创建新错误
func New(code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		GRPCCode:   codes.Internal,
	}
}

// NewWithStatus 创建带状态码的错误
func NewWithStatus(code, message string, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Wrap 包装错误
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	newErr.capture(3)
	return newErr
}

// Wrapf 包装错误并添加信息
func Wrapf(err *Error, format string, args ...interface{}) *Error {
	newErr := err.Copy()
	newErr.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	newErr.capture(3)
	return newErr
}

// FromError 从标准错误转换
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// Backtrace 提取错误链上第一个带栈信息的业务错误的前 n 帧
func Backtrace(err error, n int) []string {
	for err != nil {
		var bizErr *Error
		if !errors.As(err, &bizErr) {
			return nil
		}
		if frames := bizErr.Frames(n); len(frames) > 0 {
			return frames
		}
		err = bizErr.Cause
	}
	return nil
}

// Caller 当前调用栈前 n 帧
func Caller(skip, n int) []string {
	var pcs [32]uintptr
	cnt := runtime.Callers(skip+2, pcs[:])
	if cnt == 0 {
		return nil
	}
	return formatFrames(pcs[:cnt], n)
}

// 通用错误码
var (
	ErrInternal           = NewWithStatus("INTERNAL_ERROR", "内部错误", http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest     = NewWithStatus("INVALID_REQUEST", "请求参数无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrForbidden          = NewWithStatus("FORBIDDEN", "禁止访问", http.StatusForbidden, codes.PermissionDenied)
	ErrNotFound           = NewWithStatus("NOT_FOUND", "资源不存在", http.StatusNotFound, codes.NotFound)
	ErrConflict           = NewWithStatus("CONFLICT", "资源冲突", http.StatusConflict, codes.AlreadyExists)
	ErrServiceUnavailable = NewWithStatus("SERVICE_UNAVAILABLE", "服务不可用", http.StatusServiceUnavailable, codes.Unavailable)
	ErrTimeout            = NewWithStatus("TIMEOUT", "请求超时", http.StatusGatewayTimeout, codes.DeadlineExceeded)
)

// 业务错误码
var (
	// 交易相关
	ErrTradeNotFound          = NewWithStatus("TRADE_NOT_FOUND", "交易不存在", http.StatusNotFound, codes.NotFound)
	ErrInvalidTransition      = NewWithStatus("INVALID_STATE_TRANSITION", "当前状态不允许该操作", http.StatusConflict, codes.FailedPrecondition)
	ErrNotPermitted           = NewWithStatus("NOT_PERMITTED", "当前角色无权执行该操作", http.StatusForbidden, codes.PermissionDenied)
	ErrTradeAlreadyCancelled  = NewWithStatus("TRADE_ALREADY_CANCELLED", "交易已取消", http.StatusConflict, codes.FailedPrecondition)
	ErrTradeAlreadyReleased   = NewWithStatus("TRADE_ALREADY_RELEASED", "交易已放币", http.StatusConflict, codes.FailedPrecondition)
	ErrSettlementInProgress   = NewWithStatus("SETTLEMENT_IN_PROGRESS", "交易正在结算中", http.StatusConflict, codes.Aborted)
	ErrOfferNotFound          = NewWithStatus("OFFER_NOT_FOUND", "广告不存在", http.StatusNotFound, codes.NotFound)
	ErrOfferInactive          = NewWithStatus("OFFER_INACTIVE", "广告已下架", http.StatusConflict, codes.FailedPrecondition)
	ErrInvalidAmount          = NewWithStatus("INVALID_AMOUNT", "数量无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrDepositNotFound        = NewWithStatus("DEPOSIT_NOT_FOUND", "法币充值记录不存在", http.StatusNotFound, codes.NotFound)
	ErrWithdrawalNotFound     = NewWithStatus("WITHDRAWAL_NOT_FOUND", "提现记录不存在", http.StatusNotFound, codes.NotFound)
	ErrInvalidPayableStatus   = NewWithStatus("INVALID_PAYABLE_STATUS", "充提状态不允许该操作", http.StatusConflict, codes.FailedPrecondition)
	ErrUnknownBalanceLock     = NewWithStatus("UNKNOWN_BALANCE_LOCK", "余额锁不存在", http.StatusNotFound, codes.NotFound)
	ErrInvalidEventPayload    = NewWithStatus("INVALID_EVENT_PAYLOAD", "事件内容无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrUnsupportedEventAction = NewWithStatus("UNSUPPORTED_EVENT_ACTION", "不支持的事件操作", http.StatusBadRequest, codes.InvalidArgument)

	// 余额锁相关 (基础设施侧，可重试)
	ErrLockNotConfirmed = NewWithStatus("LOCK_NOT_CONFIRMED", "余额锁未确认", http.StatusServiceUnavailable, codes.Unavailable)
	ErrLockRejected     = NewWithStatus("LOCK_REJECTED", "余额锁被拒绝", http.StatusServiceUnavailable, codes.Unavailable)
	ErrAccountKeyBusy   = NewWithStatus("ACCOUNT_KEY_BUSY", "账户正被其他结算占用", http.StatusServiceUnavailable, codes.Unavailable)

	// 消息队列相关
	ErrMQPublish = NewWithStatus("MQ_PUBLISH_ERROR", "消息发布失败", http.StatusInternalServerError, codes.Internal)
)

// ToGRPCError 转换为 gRPC 错误，非业务错误不暴露内部细节
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		if bizErr.IsClientError() {
			return status.Error(bizErr.GRPCCode, bizErr.Message)
		}
		return status.Error(bizErr.GRPCCode, ErrInternal.Message)
	}
	return status.Error(codes.Internal, ErrInternal.Message)
}

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// IsBusiness 是否为领域规则错误 (4xx)
func IsBusiness(err error) bool {
	var bizErr *Error
	return errors.As(err, &bizErr) && bizErr.IsClientError()
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}
