package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 中继配置
type Config struct {
	MaxSessions      int           `mapstructure:"max_sessions"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	// 协议层 ping 间隔；PongWait 内未收到任何数据视为断开
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`

	SendQueueSize int `mapstructure:"send_queue_size"`
	// 连续格式错误超过该值断开会话
	MaxInvalidMessages int `mapstructure:"max_invalid_messages"`

	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`

	// 按 correlation_id 去重的布隆过滤器容量与误判率，容量为 0 关闭去重
	DedupCapacity      uint    `mapstructure:"dedup_capacity"`
	DedupFalsePositive float64 `mapstructure:"dedup_false_positive"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:        10000,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		HandshakeTimeout:   10 * time.Second,
		MaxMessageSize:     512 * 1024,
		PingInterval:       30 * time.Second,
		PongWait:           90 * time.Second,
		WriteWait:          10 * time.Second,
		SendQueueSize:      256,
		MaxInvalidMessages: 10,
		DedupCapacity:      100000,
		DedupFalsePositive: 0.001,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.MaxSessions <= 0:
		return ErrInvalidConfig.WithMessagef("max sessions must be positive, got %d", c.MaxSessions)
	case c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0:
		return ErrInvalidConfig.WithMessage("buffer sizes must be positive")
	case c.MaxMessageSize <= 0:
		return ErrInvalidConfig.WithMessagef("max message size must be positive, got %d", c.MaxMessageSize)
	case c.PingInterval <= 0:
		return ErrInvalidConfig.WithMessagef("ping interval must be positive, got %v", c.PingInterval)
	case c.PongWait <= c.PingInterval:
		return ErrInvalidConfig.WithMessagef("pong wait (%v) must exceed ping interval (%v)", c.PongWait, c.PingInterval)
	case c.WriteWait <= 0:
		return ErrInvalidConfig.WithMessagef("write wait must be positive, got %v", c.WriteWait)
	case c.SendQueueSize <= 0:
		return ErrInvalidConfig.WithMessagef("send queue size must be positive, got %d", c.SendQueueSize)
	case c.DedupCapacity > 0 && (c.DedupFalsePositive <= 0 || c.DedupFalsePositive >= 1):
		return ErrInvalidConfig.WithMessagef("dedup false positive rate %v out of (0, 1)", c.DedupFalsePositive)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 整体替换配置，通常来自配置文件；后续选项仍可覆盖
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
		c.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	}
}

// WithMaxSessions 最大会话数
func WithMaxSessions(n int) Option {
	return func(c *Config) { c.MaxSessions = n }
}

// WithPingInterval 协议层 ping 间隔与读超时
func WithPingInterval(interval, pongWait time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = interval
		c.PongWait = pongWait
	}
}

// WithSendQueueSize 每个会话的发送队列长度
func WithSendQueueSize(n int) Option {
	return func(c *Config) { c.SendQueueSize = n }
}

// WithMessageSizeLimit 单条消息上限
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) { c.MaxMessageSize = size }
}

// WithAllowedOrigins Origin 白名单
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) { c.AllowedOrigins = origins }
}

// WithAllowAllOrigins 不校验 Origin，仅用于开发环境
func WithAllowAllOrigins() Option {
	return func(c *Config) { c.AllowAllOrigins = true }
}

// WithDedup correlation_id 去重参数，capacity 为 0 关闭
func WithDedup(capacity uint, falsePositive float64) Option {
	return func(c *Config) {
		c.DedupCapacity = capacity
		c.DedupFalsePositive = falsePositive
	}
}

func newUpgrader(c *Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   c.ReadBufferSize,
		WriteBufferSize:  c.WriteBufferSize,
		HandshakeTimeout: c.HandshakeTimeout,
		CheckOrigin:      originChecker(c),
	}
}

// originChecker 白名单优先；都未设置时要求同源
//
// 没有 Origin 头的请求来自非浏览器客户端，只在未配置白名单时放行。
func originChecker(c *Config) func(*http.Request) bool {
	if c.AllowAllOrigins {
		return func(*http.Request) bool { return true }
	}
	if len(c.AllowedOrigins) > 0 {
		whitelist := make(map[string]struct{}, len(c.AllowedOrigins))
		for _, o := range c.AllowedOrigins {
			whitelist[o] = struct{}{}
		}
		return func(r *http.Request) bool {
			_, ok := whitelist[r.Header.Get("Origin")]
			return ok
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
