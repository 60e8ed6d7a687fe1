package feed

import (
	"time"

	"github.com/tokmz/warroom/pkg/cache"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// Config 数据源配置，未启用的数据源不会创建
type Config struct {
	Script  ScriptConfig  `mapstructure:"script"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Restart RestartConfig `mapstructure:"restart"`
}

// ScriptConfig YAML 回放脚本
type ScriptConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig Redis 发布订阅
type RedisConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Channels          []string `mapstructure:"channels"`
	Prefix            string   `mapstructure:"prefix"`
	cache.RedisConfig `mapstructure:",squash"`
}

// KafkaConfig Kafka 消费组
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topics   []string `mapstructure:"topics"`
	Group    string   `mapstructure:"group"`
	ClientID string   `mapstructure:"client_id"`
	Version  string   `mapstructure:"version"`
	Oldest   bool     `mapstructure:"oldest"` // 无已提交位移时从最早消息开始
}

// AMQPConfig RabbitMQ 队列
type AMQPConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	URL         string   `mapstructure:"url"`
	Queue       string   `mapstructure:"queue"`
	Exchange    string   `mapstructure:"exchange"`
	BindingKeys []string `mapstructure:"binding_keys"`
	Durable     bool     `mapstructure:"durable"`
	Prefetch    int      `mapstructure:"prefetch"`
	ConsumerTag string   `mapstructure:"consumer_tag"`
}

// RestartConfig 数据源异常退出后的重启退避
type RestartConfig struct {
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	Jitter       time.Duration `mapstructure:"jitter"`
}

// Policy 转为退避策略，未设置的字段取默认值
func (c RestartConfig) Policy() wsclient.Policy {
	p := wsclient.DefaultPolicy()
	if c.BaseInterval > 0 {
		p.BaseInterval = c.BaseInterval
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.Jitter > 0 {
		p.Jitter = c.Jitter
	}
	if p.MaxInterval < p.BaseInterval {
		p.MaxInterval = p.BaseInterval
	}
	return p
}

// Open 按配置创建数据源；返回的 closer 释放数据源持有的客户端
func Open(cfg Config, log logger.Logger) ([]Source, func() error, error) {
	if log == nil {
		log = logger.NewNop()
	}
	var (
		sources []Source
		closers []func() error
	)
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if cfg.Script.Path != "" {
		s, err := LoadScript(cfg.Script.Path, log)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, s)
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(&cfg.Redis.RedisConfig)
		if err != nil {
			_ = closeAll()
			return nil, nil, ErrInvalidConfig.WithMessage("redis 数据源配置无效").WithError(err)
		}
		closers = append(closers, client.Close)
		s, err := NewRedisSource(client, cfg.Redis.Channels, cfg.Redis.Prefix, log)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sources = append(sources, s)
	}

	if cfg.Kafka.Enabled {
		s, err := NewKafkaSource(cfg.Kafka, log)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sources = append(sources, s)
	}

	if cfg.AMQP.Enabled {
		s, err := NewAMQPSource(cfg.AMQP, log)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		sources = append(sources, s)
	}

	return sources, closeAll, nil
}
