package feed

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// AMQPSource 从 RabbitMQ 队列消费事件，可选绑定到 exchange
type AMQPSource struct {
	cfg AMQPConfig
	log logger.Logger
}

// NewAMQPSource 创建数据源，连接在 Run 时建立
func NewAMQPSource(cfg AMQPConfig, log logger.Logger) (*AMQPSource, error) {
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, ErrInvalidConfig.WithMessage("amqp 需要 url 和 queue")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AMQPSource{cfg: cfg, log: log.Named("feed.amqp")}, nil
}

func (s *AMQPSource) Name() string { return "amqp" }

// Run 连接断开时返回 ErrSourceClosed，由 Supervise 负责重连
func (s *AMQPSource) Run(ctx context.Context, sink Sink) error {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if s.cfg.Prefetch > 0 {
		if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
			return err
		}
	}
	q, err := ch.QueueDeclare(s.cfg.Queue, s.cfg.Durable, !s.cfg.Durable, false, false, nil)
	if err != nil {
		return err
	}
	if s.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(s.cfg.Exchange, amqp.ExchangeTopic, s.cfg.Durable, false, false, false, nil); err != nil {
			return err
		}
		keys := s.cfg.BindingKeys
		if len(keys) == 0 {
			keys = []string{"#"}
		}
		for _, key := range keys {
			if err := ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
				return err
			}
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.log.Info("amqp feed consuming", zap.String("queue", q.Name))
	return s.consume(ctx, sink, deliveries)
}

func (s *AMQPSource) consume(ctx context.Context, sink Sink, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSourceClosed
			}
			if err := s.handleDelivery(ctx, sink, d); err != nil {
				return err
			}
		}
	}
}

// handleDelivery 格式错误的消息拒收且不重新入队；sink 失败时重新入队
func (s *AMQPSource) handleDelivery(ctx context.Context, sink Sink, d amqp.Delivery) error {
	e, err := Decode(d.Body, "")
	if err != nil {
		s.log.Warn("reject amqp message", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false)
		return nil
	}
	if err := sink.Publish(ctx, e); err != nil {
		_ = d.Nack(false, true)
		return err
	}
	return d.Ack(false)
}
