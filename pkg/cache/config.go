package cache

import (
	"fmt"
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver     DriverType    `mapstructure:"driver"`
	Redis      *RedisConfig  `mapstructure:"redis"`
	Memory     *MemoryConfig `mapstructure:"memory"`
	KeyPrefix  string        `mapstructure:"key_prefix"`  // 键前缀（多个实例共享 Redis 时避免冲突）
	DefaultTTL time.Duration `mapstructure:"default_ttl"` // Set 传入 0 时使用
	Tracing    bool          `mapstructure:"tracing"`     // 是否包一层链路追踪

	Serializer Serializer `mapstructure:"-"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`  // 地址（单机）
	Addrs        []string      `mapstructure:"addrs"` // 地址列表（集群/哨兵）
	Mode         RedisMode     `mapstructure:"mode"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MasterName   string        `mapstructure:"master_name"` // 哨兵模式主节点名
	ScanCount    int64         `mapstructure:"scan_count"`  // DeletePrefix 每批 SCAN 数量
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 过期清理间隔
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		Serializer: &JSONSerializer{},
		DefaultTTL: 5 * time.Minute,
		Memory:     DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		ScanCount:    200,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{CleanupInterval: time.Minute}
}

// Option 配置选项
type Option func(*Config)

// WithRedis 使用 Redis 驱动
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithMemory 使用内存驱动
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithSerializer 设置序列化器
func WithSerializer(s Serializer) Option {
	return func(c *Config) {
		c.Serializer = s
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithDefaultTTL 设置默认 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = ttl
	}
}

// WithTracing 开启链路追踪
func WithTracing(enable bool) Option {
	return func(c *Config) {
		c.Tracing = enable
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Serializer == nil {
		return ErrCacheInvalidConfig.WithMessage("cache: serializer is required")
	}
	if c.DefaultTTL < 0 {
		return ErrCacheInvalidConfig.WithMessagef("cache: DefaultTTL must not be negative, got %v", c.DefaultTTL)
	}

	switch c.Driver {
	case DriverMemory:
		if c.Memory == nil {
			return ErrCacheInvalidConfig.WithMessage("cache: memory config is required")
		}
	case DriverRedis:
		if c.Redis == nil {
			return ErrCacheInvalidConfig.WithMessage("cache: redis config is required")
		}
		return c.Redis.validate()
	default:
		return ErrCacheInvalidConfig.WithMessagef("cache: invalid driver type %q", c.Driver)
	}
	return nil
}

func (r *RedisConfig) validate() error {
	switch r.Mode {
	case RedisStandalone, "":
		if r.Addr == "" {
			return ErrCacheInvalidConfig.WithMessage("cache: redis addr is required for standalone mode")
		}
	case RedisCluster:
		if len(r.Addrs) == 0 {
			return ErrCacheInvalidConfig.WithMessage("cache: redis cluster requires addrs")
		}
	case RedisSentinel:
		if len(r.Addrs) == 0 || r.MasterName == "" {
			return ErrCacheInvalidConfig.WithMessage("cache: redis sentinel requires addrs and master name")
		}
	default:
		return ErrCacheInvalidConfig.WithMessage(fmt.Sprintf("cache: invalid redis mode %q", r.Mode))
	}
	return nil
}
