package logger

import (
	"io"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Name   string // Logger 名称
	Level  Level  // 日志级别（零值即 InfoLevel）
	Format Format // json/console，默认 json

	Console bool          // 输出到 stdout
	Writer  io.Writer     // 额外输出（测试时用于捕获日志）
	File    string        // 文件路径
	Rotate  *RotateConfig // 轮转配置

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	DisableCaller     bool // 关闭调用位置
	DisableStacktrace bool // 关闭 Error 级别堆栈

	EncoderConfig *zapcore.EncoderConfig
	Hooks         []Hook
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.Writer == nil && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}

// RotateConfig 文件轮转配置
type RotateConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // MB，默认 100
	MaxAge     int    `mapstructure:"max_age"`     // 天，默认 30
	MaxBackups int    `mapstructure:"max_backups"` // 默认 10
	Compress   bool   `mapstructure:"compress"`
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}

// SamplingConfig 采样配置：每个 Tick 内前 Initial 条必记，之后每 Thereafter 条记 1 条
type SamplingConfig struct {
	Tick       time.Duration
	Initial    int
	Thereafter int
}

func (s *SamplingConfig) setDefaults() {
	if s.Tick == 0 {
		s.Tick = time.Second
	}
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}
