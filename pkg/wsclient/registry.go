package wsclient

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// TopicAll 订阅所有已识别消息
const TopicAll = "*"

// Handler 消息处理器，返回错误只会被记录，不影响其他处理器
type Handler func(Message) error

type subscription struct {
	topic  string
	h      Handler
	active atomic.Bool
}

// Registry 按主题分发消息
//
// Publish 在调用方协程内同步执行，按注册顺序调用。
//
// 取消订阅不等待正在执行的调用，因此处理器内可以取消自己或其他订阅。
// 同一协程内取消返回后不会再调用该处理器；其他协程并发 Publish 时，
// 已经通过 active 检查的那一次调用仍可能在取消返回之后执行。
type Registry struct {
	mu     sync.RWMutex
	topics map[string][]*subscription
	log    logger.Logger

	onError func(topic string, err error)
}

// NewRegistry 创建订阅表
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		topics: make(map[string][]*subscription),
		log:    log,
	}
}

// Subscribe 订阅主题，返回的取消函数可重复调用，可在任意处理器内调用
func (r *Registry) Subscribe(topic string, h Handler) (unsubscribe func()) {
	s := &subscription{topic: topic, h: h}
	s.active.Store(true)

	r.mu.Lock()
	r.topics[topic] = append(r.topics[topic], s)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(s) })
	}
}

func (r *Registry) remove(s *subscription) {
	s.active.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.topics[s.topic]
	for i, x := range subs {
		if x == s {
			// 复制而非原地修改，Publish 持有的快照不受影响
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.topics, s.topic)
		return
	}
	r.topics[s.topic] = subs
}

// Publish 同步调用主题下的处理器，返回实际调用数
func (r *Registry) Publish(topic string, msg Message) int {
	r.mu.RLock()
	subs := r.topics[topic]
	r.mu.RUnlock()

	n := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		n++
		if err := r.invoke(s, msg); err != nil {
			r.log.Warn("wsclient: subscriber failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
			if r.onError != nil {
				r.onError(topic, err)
			}
		}
	}
	return n
}

func (r *Registry) invoke(s *subscription, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber panic: %v", rec)
		}
	}()
	return s.h(msg)
}

// Count 主题订阅数
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics 当前有订阅的主题，已排序
func (r *Registry) Topics() []string {
	r.mu.RLock()
	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

// Clear 移除所有订阅
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.topics {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
	r.topics = make(map[string][]*subscription)
}
