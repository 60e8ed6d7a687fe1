package warroom

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/cache"
	"github.com/tokmz/warroom/pkg/config"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/tracing"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// EnvPrefix 环境变量前缀，WARROOM_BACKEND_BASE_URL 覆盖 backend.base_url
const EnvPrefix = "WARROOM"

// Settings 应用配置
type Settings struct {
	// WSBase 中继地址，为空时使用 backend.base_url 推导
	WSBase string `mapstructure:"ws_base"`

	Log      LogSettings     `mapstructure:"log"`
	Tracing  tracing.Config  `mapstructure:"tracing"`
	Cache    cache.Config    `mapstructure:"cache"`
	Backend  backend.Config  `mapstructure:"backend"`
	Client   ClientSettings  `mapstructure:"client"`
	Channels ChannelSettings `mapstructure:"channels"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogSettings 日志
type LogSettings struct {
	Level  string               `mapstructure:"level"`
	Format string               `mapstructure:"format"` // json/console
	File   string               `mapstructure:"file"`
	Rotate *logger.RotateConfig `mapstructure:"rotate"`
}

// Build 创建日志；未配置文件时输出到 w，w 为 nil 时输出到控制台
func (s LogSettings) Build(name string, w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	cfg := &logger.Config{
		Name:   name,
		Level:  level,
		Format: logger.Format(s.Format),
		File:   s.File,
		Rotate: s.Rotate,
	}
	if s.File == "" && s.Rotate == nil {
		cfg.Writer = w
		cfg.Console = w == nil
	}
	return logger.New(cfg)
}

// ClientSettings 三个通道共用的连接参数
type ClientSettings struct {
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
	ReconnectJitter      time.Duration `mapstructure:"reconnect_jitter"`
	ExponentialBackoff   bool          `mapstructure:"exponential_backoff"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	PongTimeout          time.Duration `mapstructure:"pong_timeout"`
	QueueSize            int           `mapstructure:"queue_size"`
}

// ChannelSettings 启用的通道与连接后的订阅
type ChannelSettings struct {
	Dashboard      bool     `mapstructure:"dashboard"`
	AdMonitor      bool     `mapstructure:"ad_monitor"`
	Analytics      bool     `mapstructure:"analytics"`
	AlertPlatforms []string `mapstructure:"alert_platforms"`
	Metrics        []string `mapstructure:"metrics"`
}

// DefaultSettings 默认配置：三个通道全部启用，内存缓存，不开启追踪
func DefaultSettings() *Settings {
	client := wsclient.DefaultConfig()
	return &Settings{
		Log:     LogSettings{Level: "info", Format: string(logger.JSONFormat)},
		Tracing: *tracing.DefaultConfig(),
		Cache:   *cache.DefaultConfig(),
		Backend: *backend.DefaultConfig(),
		Client: ClientSettings{
			HandshakeTimeout:     client.HandshakeTimeout,
			WriteTimeout:         client.WriteTimeout,
			MaxMessageSize:       client.MaxMessageSize,
			AutoReconnect:        client.AutoReconnect,
			MaxReconnectAttempts: client.MaxReconnectAttempts,
			ReconnectInterval:    client.Policy.BaseInterval,
			MaxReconnectInterval: client.Policy.MaxInterval,
			ReconnectJitter:      client.Policy.Jitter,
			ExponentialBackoff:   client.Policy.Exponential,
			HeartbeatInterval:    client.HeartbeatInterval,
			QueueSize:            client.QueueSize,
		},
		Channels: ChannelSettings{
			Dashboard:      true,
			AdMonitor:      true,
			Analytics:      true,
			AlertPlatforms: []string{string(backend.PlatformMeta), string(backend.PlatformGoogle)},
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// defaults 环境变量只能覆盖已知键，这里列出可通过环境变量设置的键
func defaults(s *Settings) map[string]any {
	return map[string]any{
		"ws_base":          s.WSBase,
		"shutdown_timeout": s.ShutdownTimeout,

		"log.level":  s.Log.Level,
		"log.format": s.Log.Format,
		"log.file":   s.Log.File,

		"tracing.enabled":       s.Tracing.Enabled,
		"tracing.service_name":  s.Tracing.ServiceName,
		"tracing.environment":   s.Tracing.Environment,
		"tracing.exporter":      s.Tracing.Exporter,
		"tracing.endpoint":      s.Tracing.Endpoint,
		"tracing.insecure":      s.Tracing.Insecure,
		"tracing.sampler":       s.Tracing.Sampler,
		"tracing.sampling_rate": s.Tracing.SamplingRate,

		"cache.driver":      string(s.Cache.Driver),
		"cache.key_prefix":  s.Cache.KeyPrefix,
		"cache.default_ttl": s.Cache.DefaultTTL,

		"backend.base_url":    s.Backend.BaseURL,
		"backend.token":       s.Backend.Token,
		"backend.timeout":     s.Backend.Timeout,
		"backend.max_retries": s.Backend.MaxRetries,

		"client.auto_reconnect":         s.Client.AutoReconnect,
		"client.max_reconnect_attempts": s.Client.MaxReconnectAttempts,
		"client.reconnect_interval":     s.Client.ReconnectInterval,
		"client.heartbeat_interval":     s.Client.HeartbeatInterval,
		"client.pong_timeout":           s.Client.PongTimeout,
		"client.queue_size":             s.Client.QueueSize,

		"channels.dashboard":  s.Channels.Dashboard,
		"channels.ad_monitor": s.Channels.AdMonitor,
		"channels.analytics":  s.Channels.Analytics,
	}
}

// FlagBinding 命令行参数与配置键的对应
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// LoadSettings 读取配置文件并叠加环境变量与命令行参数
//
// path 为空时只使用默认值与环境变量。优先级：命令行 > 环境变量 > 文件 > 默认值。
func LoadSettings(path string, flags ...FlagBinding) (*Settings, error) {
	s := DefaultSettings()
	opts := []config.Option{
		config.WithEnvPrefix(EnvPrefix),
		config.WithDefaults(defaults(s)),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts, config.WithOptional(true))
	}
	m := config.New(opts...)
	defer m.Close()

	for _, b := range flags {
		if b.Flag == nil {
			continue
		}
		if err := m.BindFlag(b.Key, b.Flag); err != nil {
			return nil, err
		}
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	if err := m.Unmarshal(s); err != nil {
		return nil, err
	}
	s.Channels.AlertPlatforms = splitList(s.Channels.AlertPlatforms)
	s.Channels.Metrics = splitList(s.Channels.Metrics)
	return s, nil
}

// splitList 环境变量给出的列表是逗号分隔的单个字符串
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// options 转为客户端选项
func (c ClientSettings) options() []wsclient.Option {
	policy := wsclient.DefaultPolicy()
	if c.ReconnectInterval > 0 {
		policy.BaseInterval = c.ReconnectInterval
	}
	if c.MaxReconnectInterval > 0 {
		policy.MaxInterval = c.MaxReconnectInterval
	}
	if policy.MaxInterval < policy.BaseInterval {
		policy.MaxInterval = policy.BaseInterval
	}
	policy.Jitter = c.ReconnectJitter
	policy.Exponential = c.ExponentialBackoff

	opts := []wsclient.Option{
		wsclient.WithAutoReconnect(c.AutoReconnect),
		wsclient.WithMaxReconnectAttempts(c.MaxReconnectAttempts),
		wsclient.WithPolicy(policy),
		wsclient.WithPongTimeout(c.PongTimeout),
	}
	if c.HandshakeTimeout > 0 {
		opts = append(opts, wsclient.WithHandshakeTimeout(c.HandshakeTimeout))
	}
	if c.WriteTimeout > 0 {
		opts = append(opts, wsclient.WithWriteTimeout(c.WriteTimeout))
	}
	if c.MaxMessageSize > 0 {
		opts = append(opts, wsclient.WithMessageSizeLimit(c.MaxMessageSize))
	}
	if c.HeartbeatInterval > 0 {
		opts = append(opts, wsclient.WithHeartbeatInterval(c.HeartbeatInterval))
	}
	if c.QueueSize > 0 {
		opts = append(opts, wsclient.WithQueueSize(c.QueueSize))
	}
	return opts
}
