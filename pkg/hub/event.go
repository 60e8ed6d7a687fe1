package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 会话事件类型
type EventType string

const (
	EventSessionOpened   EventType = "session.opened"
	EventSessionClosed   EventType = "session.closed"
	EventMessageReceived EventType = "message.received"
)

// Event 会话事件
type Event struct {
	Type      EventType
	SessionID string
	Channel   string
	// MessageType 仅 EventMessageReceived 携带
	MessageType string
	Time        time.Time
}

// EventHandler 事件回调，在事件 worker 中执行
type EventHandler func(Event)

// EventBus 异步事件总线
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler

	tasks   chan func()
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

func newEventBus(workers, buffer int) *EventBus {
	b := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		tasks:    make(chan func(), buffer),
		stop:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *EventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case task := <-b.tasks:
			task()
		case <-b.stop:
			return
		}
	}
}

// Subscribe 订阅事件
func (b *EventBus) Subscribe(t EventType, h EventHandler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// Publish 异步投递；会话开关事件最多等待 100ms，消息事件队列满直接丢弃
func (b *EventBus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		task := func() { h(e) }
		if e.Type == EventMessageReceived {
			select {
			case b.tasks <- task:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		select {
		case b.tasks <- task:
		case <-time.After(100 * time.Millisecond):
			b.dropped.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Dropped 被丢弃的事件数
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 停止 worker，未执行的事件丢弃
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.stop)
	b.wg.Wait()
}
