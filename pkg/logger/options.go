package logger

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// Option 配置选项函数
type Option func(*Config)

// WithName 设置 Logger 名称
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithFormat 设置日志格式
func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 启用控制台输出
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithWriter 追加自定义输出
func WithWriter(w io.Writer) Option {
	return func(c *Config) { c.Writer = w }
}

// WithFileOutput 设置文件输出
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 设置文件轮转输出
func WithRotateOutput(config *RotateConfig) Option {
	return func(c *Config) { c.Rotate = config }
}

// WithSampling 设置采样
func WithSampling(config *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = config }
}

// WithCaller 设置是否记录调用位置
func WithCaller(enable bool) Option {
	return func(c *Config) { c.DisableCaller = !enable }
}

// WithStacktrace 设置是否记录堆栈
func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.DisableStacktrace = !enable }
}

// WithEncoderConfig 自定义 Encoder
func WithEncoderConfig(config *zapcore.EncoderConfig) Option {
	return func(c *Config) { c.EncoderConfig = config }
}

// WithHook 添加 Hook
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
