package wsclient

import (
	"sync"
	"sync/atomic"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnects()
	IncrementDisconnects()
	IncrementReconnectAttempts()

	// 消息指标
	IncrementMessagesIn(msgType string)
	IncrementMessagesOut(msgType string)
	IncrementDecodeErrors()

	// 队列指标
	SetQueued(n int)
	IncrementDropped()

	// 订阅者指标
	IncrementHandlerErrors(topic string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnects()                  {}
func (NoopMetrics) IncrementDisconnects()               {}
func (NoopMetrics) IncrementReconnectAttempts()         {}
func (NoopMetrics) IncrementMessagesIn(msgType string)  {}
func (NoopMetrics) IncrementMessagesOut(msgType string) {}
func (NoopMetrics) IncrementDecodeErrors()              {}
func (NoopMetrics) SetQueued(n int)                     {}
func (NoopMetrics) IncrementDropped()                   {}
func (NoopMetrics) IncrementHandlerErrors(topic string) {}

// CounterMetrics 内存计数实现
type CounterMetrics struct {
	Connects          atomic.Int64
	Disconnects       atomic.Int64
	ReconnectAttempts atomic.Int64
	DecodeErrors      atomic.Int64
	Queued            atomic.Int64
	Dropped           atomic.Int64

	mu            sync.Mutex
	in            map[string]int64
	out           map[string]int64
	handlerErrors map[string]int64
}

// NewCounterMetrics 创建计数器
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{
		in:            make(map[string]int64),
		out:           make(map[string]int64),
		handlerErrors: make(map[string]int64),
	}
}

func (m *CounterMetrics) IncrementConnects()          { m.Connects.Add(1) }
func (m *CounterMetrics) IncrementDisconnects()       { m.Disconnects.Add(1) }
func (m *CounterMetrics) IncrementReconnectAttempts() { m.ReconnectAttempts.Add(1) }
func (m *CounterMetrics) IncrementDecodeErrors()      { m.DecodeErrors.Add(1) }
func (m *CounterMetrics) SetQueued(n int)             { m.Queued.Store(int64(n)) }
func (m *CounterMetrics) IncrementDropped()           { m.Dropped.Add(1) }

func (m *CounterMetrics) IncrementMessagesIn(msgType string) {
	m.mu.Lock()
	m.in[msgType]++
	m.mu.Unlock()
}

func (m *CounterMetrics) IncrementMessagesOut(msgType string) {
	m.mu.Lock()
	m.out[msgType]++
	m.mu.Unlock()
}

func (m *CounterMetrics) IncrementHandlerErrors(topic string) {
	m.mu.Lock()
	m.handlerErrors[topic]++
	m.mu.Unlock()
}

// MessagesIn 某类型入站消息数
func (m *CounterMetrics) MessagesIn(msgType string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.in[msgType]
}

// MessagesOut 某类型出站消息数
func (m *CounterMetrics) MessagesOut(msgType string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out[msgType]
}

// HandlerErrors 某主题订阅者失败次数
func (m *CounterMetrics) HandlerErrors(topic string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlerErrors[topic]
}
