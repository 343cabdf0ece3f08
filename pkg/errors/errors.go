// Package errors 提供统一错误辅助与哨兵错误，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 哨兵错误；各层用 Wrap 附加上下文，调用方以 errors.Is 判定类别
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
	// ErrInvariantViolation 不变量被破坏（游标回退、检测到并发写者），必须显式暴露，不可静默修正
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrConflict 版本冲突等可重读后重试的冲突
	ErrConflict = errors.New("conflict")
	// ErrRejected 下游拒绝接收（如集群拒绝入队）
	ErrRejected = errors.New("rejected")
	// ErrBusy 互斥资源已被其他调用持有
	ErrBusy          = errors.New("busy")
	ErrInvalidConfig = errors.New("invalid config")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is 等价于标准库 errors.Is，便于只导入本包
func Is(err, target error) bool { return errors.Is(err, target) }

// As 等价于标准库 errors.As
func As(err error, target any) bool { return errors.As(err, target) }
