package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// KafkaSource 以消费组方式读取 Kafka 主题
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topics []string
	log    logger.Logger
}

// NewKafkaSource 连接 broker 并创建消费组
func NewKafkaSource(cfg KafkaConfig, log logger.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || len(cfg.Topics) == 0 || cfg.Group == "" {
		return nil, ErrInvalidConfig.WithMessage("kafka 需要 brokers、topics 和 group")
	}
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Consumer.Return.Errors = true
	if cfg.Oldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, ErrInvalidConfig.WithMessagef("kafka 版本无效: %s", cfg.Version).WithError(err)
		}
		sc.Version = v
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, sc)
	if err != nil {
		return nil, err
	}
	return newKafkaSource(group, cfg.Topics, log), nil
}

func newKafkaSource(group sarama.ConsumerGroup, topics []string, log logger.Logger) *KafkaSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &KafkaSource{group: group, topics: topics, log: log.Named("feed.kafka")}
}

func (s *KafkaSource) Name() string { return "kafka" }

// Run 再均衡后重新加入消费组，返回时关闭消费组
func (s *KafkaSource) Run(ctx context.Context, sink Sink) error {
	var wg sync.WaitGroup
	defer func() {
		_ = s.group.Close()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range s.group.Errors() {
			s.log.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	h := &kafkaHandler{sink: sink, log: s.log}
	for {
		if err := s.group.Consume(ctx, s.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := h.failure(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type kafkaHandler struct {
	sink Sink
	log  logger.Logger

	mu  sync.Mutex
	err error
}

func (h *kafkaHandler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 无法解析的消息同样提交位移，避免反复投递
func (h *kafkaHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			e, err := Decode(msg.Value, "")
			if err != nil {
				h.log.Warn("drop kafka message",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				sess.MarkMessage(msg, "")
				continue
			}
			if err := h.sink.Publish(ctx, e); err != nil {
				h.mu.Lock()
				h.err = err
				h.mu.Unlock()
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}
