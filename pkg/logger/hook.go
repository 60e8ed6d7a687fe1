package logger

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Hook 日志钩子接口
type Hook interface {
	// OnWrite 在日志写入前调用，返回错误会中止本次写入
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数适配器
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}

// LevelCounter 按级别计数，用于连接异常告警统计
type LevelCounter struct {
	warn  atomic.Int64
	error atomic.Int64
}

func (c *LevelCounter) OnWrite(entry zapcore.Entry, _ []zapcore.Field) error {
	switch {
	case entry.Level >= zapcore.ErrorLevel:
		c.error.Add(1)
	case entry.Level == zapcore.WarnLevel:
		c.warn.Add(1)
	}
	return nil
}

// Warnings 返回 Warn 条数
func (c *LevelCounter) Warnings() int64 { return c.warn.Load() }

// Errors 返回 Error 及以上条数
func (c *LevelCounter) Errors() int64 { return c.error.Load() }
