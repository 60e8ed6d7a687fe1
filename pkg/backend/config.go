package backend

import (
	"time"

	"github.com/tokmz/warroom/pkg/errors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New(4101, 500, "backend: invalid config", nil)

// 查询缓存键前缀，实时通道按前缀失效
const (
	KeyAdInsights = "ad-insights"
	KeyCampaigns  = "ad-insights:campaigns"
	KeyAlerts     = "ad-insights:alerts"
	KeyHealth     = "ad-insights:health"
	KeyPlatform   = "ad-insights:platform"
	KeyActivities = "activities"
)

// Config REST 后端配置
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Tracing    bool          `mapstructure:"tracing"`
	TTL        TTLConfig     `mapstructure:"ttl"`

	// TokenFunc 动态 token，优先于 Token
	TokenFunc func() string `mapstructure:"-"`
}

// TTLConfig 各查询的缓存时间，0 表示不缓存
type TTLConfig struct {
	Campaigns  time.Duration `mapstructure:"campaigns"`
	Alerts     time.Duration `mapstructure:"alerts"`
	Health     time.Duration `mapstructure:"health"`
	Platform   time.Duration `mapstructure:"platform"`
	Activities time.Duration `mapstructure:"activities"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8000",
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		TTL: TTLConfig{
			Campaigns:  5 * time.Minute,
			Alerts:     30 * time.Second,
			Health:     time.Minute,
			Platform:   3 * time.Minute,
			Activities: 30 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrInvalidConfig.WithMessage("backend: base_url is required")
	}
	if c.Timeout <= 0 {
		return ErrInvalidConfig.WithMessagef("backend: timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig.WithMessagef("backend: max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

func (c *Config) token() string {
	if c.TokenFunc != nil {
		return c.TokenFunc()
	}
	return c.Token
}
