package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/warroom/pkg/hub"
)

// Config 中继服务配置
type Config struct {
	// Mode gin 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"` // 请求头读取时限，升级后的连接由 Hub 自行设置
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// ShutdownTimeout 关闭会话与 HTTP 服务的总时限
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ActionTimeout 入站操作调用后端的时限
	ActionTimeout time.Duration `mapstructure:"action_timeout"`

	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// 每个客户端 IP 的握手速率，0 不限制
	UpgradeRate  float64       `mapstructure:"upgrade_rate"`
	UpgradeBurst int           `mapstructure:"upgrade_burst"`
	UpgradeTTL   time.Duration `mapstructure:"upgrade_ttl"` // 空闲桶保留时长

	Hub hub.Config `mapstructure:"hub"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:            gin.ReleaseMode,
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
		ActionTimeout:   10 * time.Second,
		UpgradeRate:     5,
		UpgradeBurst:    20,
		UpgradeTTL:      10 * time.Minute,
		Hub:             *hub.DefaultConfig(),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return ErrInvalidConfig.WithMessage("listen addr is required")
	case c.ShutdownTimeout <= 0:
		return ErrInvalidConfig.WithMessagef("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	case c.ActionTimeout <= 0:
		return ErrInvalidConfig.WithMessagef("action timeout must be positive, got %v", c.ActionTimeout)
	case c.UpgradeRate < 0:
		return ErrInvalidConfig.WithMessagef("upgrade rate must not be negative, got %v", c.UpgradeRate)
	case c.UpgradeRate > 0 && c.UpgradeTTL <= 0:
		return ErrInvalidConfig.WithMessagef("upgrade ttl must be positive, got %v", c.UpgradeTTL)
	}
	switch c.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return ErrInvalidConfig.WithMessagef("unknown gin mode %q", c.Mode)
	}
	return c.Hub.Validate()
}

// Option 配置选项
type Option func(*Server)

// WithAddr 监听地址
func WithAddr(addr string) Option {
	return func(s *Server) { s.cfg.Addr = addr }
}

// WithUpgradeRate 每个客户端 IP 的握手速率，rate 为 0 不限制
func WithUpgradeRate(rate float64, burst int) Option {
	return func(s *Server) {
		s.cfg.UpgradeRate = rate
		s.cfg.UpgradeBurst = burst
	}
}

// WithShutdownTimeout 关闭时限
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.ShutdownTimeout = d }
}

// WithSyncer 处理 request_spend_update 时调用的后端
func WithSyncer(sy Syncer) Option {
	return func(s *Server) { s.syncer = sy }
}

// WithHubOptions 追加 Hub 选项，作用于配置文件之后
func WithHubOptions(opts ...hub.Option) Option {
	return func(s *Server) { s.hubOpts = append(s.hubOpts, opts...) }
}

// WithTraceSkip 不建 Span 的请求
func WithTraceSkip(skip func(*gin.Context) bool) Option {
	return func(s *Server) { s.traceSkip = skip }
}
