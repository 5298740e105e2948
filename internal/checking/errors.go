package checking

import (
	"fmt"

	"github.com/pkg/errors"
)

// ParseFunctionError 插件解析函数失败，保留原始错误与调用栈
type ParseFunctionError struct {
	CheckType string
	Err       error
}

func newParseFunctionError(checkType string, err error) *ParseFunctionError {
	return &ParseFunctionError{CheckType: checkType, Err: errors.WithStack(err)}
}

func (e *ParseFunctionError) Error() string {
	return fmt.Sprintf("parse function of %s failed: %v", e.CheckType, e.Err)
}

func (e *ParseFunctionError) Unwrap() error {
	return e.Err
}

// Trace 原始错误及其调用栈
func (e *ParseFunctionError) Trace() string {
	return fmt.Sprintf("%+v", e.Err)
}

// panicError 把 recover 得到的值转换为带调用栈的错误
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "panic")
	}
	return errors.Errorf("panic: %v", r)
}

// trace 错误的完整描述，带 pkg/errors 调用栈时一并输出
func trace(err error) string {
	var pfe *ParseFunctionError
	if errors.As(err, &pfe) {
		return pfe.Trace()
	}
	return fmt.Sprintf("%+v", err)
}
