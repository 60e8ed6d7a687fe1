package feed

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// RedisSource 订阅 Redis 频道；带 * 的频道按模式订阅
type RedisSource struct {
	client   redis.UniversalClient
	channels []string
	prefix   string // 非空时频道名去掉前缀作为默认主题
	log      logger.Logger
}

// NewRedisSource 创建 Redis 数据源，client 由调用方管理
func NewRedisSource(client redis.UniversalClient, channels []string, prefix string, log logger.Logger) (*RedisSource, error) {
	if client == nil {
		return nil, ErrInvalidConfig.WithMessage("redis client 不能为空")
	}
	if len(channels) == 0 {
		return nil, ErrInvalidConfig.WithMessage("redis 频道不能为空")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisSource{client: client, channels: channels, prefix: prefix, log: log.Named("feed.redis")}, nil
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Run(ctx context.Context, sink Sink) error {
	var exact, patterns []string
	for _, c := range s.channels {
		if strings.ContainsAny(c, "*?[") {
			patterns = append(patterns, c)
		} else {
			exact = append(exact, c)
		}
	}

	pubsub := s.client.Subscribe(ctx, exact...)
	defer pubsub.Close()
	if len(patterns) > 0 {
		if err := pubsub.PSubscribe(ctx, patterns...); err != nil {
			return err
		}
	}
	// 确认订阅成功
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.log.Info("redis feed subscribed", zap.Strings("channels", s.channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrSourceClosed
			}
			if err := s.handleMessage(ctx, sink, msg); err != nil {
				return err
			}
		}
	}
}

// handleMessage 无法解析的消息记日志后丢弃，只有 sink 错误会中止订阅
func (s *RedisSource) handleMessage(ctx context.Context, sink Sink, msg *redis.Message) error {
	fallback := ""
	if s.prefix != "" && strings.HasPrefix(msg.Channel, s.prefix) {
		fallback = strings.TrimPrefix(msg.Channel, s.prefix)
	}
	e, err := Decode([]byte(msg.Payload), fallback)
	if err != nil {
		s.log.Warn("drop redis message", zap.String("channel", msg.Channel), zap.Error(err))
		return nil
	}
	return sink.Publish(ctx, e)
}
