package wsclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tokmz/warroom/pkg/logger"
)

// Config 客户端配置
type Config struct {
	// 连接
	Name             string        // 通道名，用于日志
	Protocols        []string      // 子协议
	Header           http.Header   // 握手请求头
	HandshakeTimeout time.Duration // 握手超时
	WriteTimeout     time.Duration // 单帧写超时
	MaxMessageSize   int64         // 入站帧大小上限

	// 重连
	AutoReconnect        bool
	MaxReconnectAttempts int // 0 表示失败后不自动重连
	Policy               Policy

	// 心跳
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration // 0 表示不检测

	// 出站队列
	QueueSize int

	Dialer  Dialer
	Logger  logger.Logger
	Metrics Metrics

	hooks []func(*Client)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Name:                 "wsclient",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       512 * 1024, // 512KB
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		Policy:               DefaultPolicy(),
		HeartbeatInterval:    30 * time.Second,
		QueueSize:            100,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HandshakeTimeout must be positive, got %v", c.HandshakeTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WriteTimeout must be positive, got %v", c.WriteTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MaxReconnectAttempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.PongTimeout < 0 {
		return fmt.Errorf("PongTimeout must not be negative, got %v", c.PongTimeout)
	}
	if c.PongTimeout > 0 && c.PongTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("PongTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.PongTimeout, c.HeartbeatInterval)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QueueSize must be positive, got %d", c.QueueSize)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("Policy: %w", err)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithName 设置通道名
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithProtocols 设置子协议
func WithProtocols(protocols ...string) Option {
	return func(c *Config) {
		c.Protocols = protocols
	}
}

// WithHeader 设置握手请求头
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithWriteTimeout 设置写超时
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithMessageSizeLimit 设置入站帧大小上限
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithAutoReconnect 开关自动重连
func WithAutoReconnect(enable bool) Option {
	return func(c *Config) {
		c.AutoReconnect = enable
	}
}

// WithMaxReconnectAttempts 设置最大重连次数
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) {
		c.MaxReconnectAttempts = n
	}
}

// WithPolicy 设置退避策略
func WithPolicy(p Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithReconnectInterval 设置首次重连间隔，Exponential=false 时即固定间隔
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.BaseInterval = d
		if c.Policy.MaxInterval < d {
			c.Policy.MaxInterval = d
		}
	}
}

// WithExponentialBackoff 开关指数退避
func WithExponentialBackoff(enable bool) Option {
	return func(c *Config) {
		c.Policy.Exponential = enable
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// WithPongTimeout 开启无流量超时检测
func WithPongTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PongTimeout = d
	}
}

// WithQueueSize 设置出站队列容量
func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.QueueSize = n
	}
}

// WithDialer 替换传输层
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithOnStateChange 状态变化回调
func WithOnStateChange(fn func(from, to State)) Option {
	return withEvent(EventStateChange, func(e Event) { fn(e.From, e.To) })
}

// WithOnOpen 连接成功回调
func WithOnOpen(fn func()) Option {
	return withEvent(EventConnected, func(Event) { fn() })
}

// WithOnClose 连接断开回调
func WithOnClose(fn func(err error)) Option {
	return withEvent(EventDisconnected, func(e Event) { fn(e.Err) })
}

// WithOnError 错误回调（传输错误、服务端错误、重连耗尽）
func WithOnError(fn func(err error)) Option {
	return withEvent(EventError, func(e Event) { fn(e.Err) })
}

// WithOnReconnect 重连尝试回调，attempt 从 1 开始
func WithOnReconnect(fn func(attempt int)) Option {
	return withEvent(EventReconnectAttempt, func(e Event) { fn(e.Attempt) })
}

// WithOnMessage 收到任意已识别消息时回调
func WithOnMessage(fn func(Message)) Option {
	return func(c *Config) {
		c.hooks = append(c.hooks, func(cl *Client) {
			cl.registry.Subscribe(TopicAll, func(m Message) error {
				fn(m)
				return nil
			})
		})
	}
}

func withEvent(t EventType, fn func(Event)) Option {
	return func(c *Config) {
		c.hooks = append(c.hooks, func(cl *Client) {
			cl.Events(func(e Event) {
				if e.Type == t {
					fn(e)
				}
			})
		})
	}
}
