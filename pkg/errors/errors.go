package errors

import (
	"errors"
	"fmt"
)

// Error 带错误码的业务错误
type Error struct {
	Code     int    `json:"code"`    // 错误码
	Message  string `json:"message"` // 错误信息
	HttpCode int    `json:"-"`       // http状态码
	Err      error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// code 错误码，httpCode 为 0 时按 500 处理
func New(code, httpCode int, message string, err error) *Error {
	if httpCode == 0 {
		httpCode = 500
	}
	return &Error{
		Code:     code,
		HttpCode: httpCode,
		Message:  message,
		Err:      err,
	}
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// WithMessage 替换错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

// WithMessagef 格式化错误信息
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Is 当 target 也是 *Error 时比较 Code
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// CodeOf 取出错误链上第一个 *Error 的错误码，没有则返回 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// As 同 errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 同 errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join 同 errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
