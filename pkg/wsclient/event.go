package wsclient

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// EventType 事件类型
type EventType string

const (
	// EventStateChange 状态变化
	EventStateChange EventType = "state.change"
	// EventConnected 连接成功
	EventConnected EventType = "connected"
	// EventDisconnected 连接断开（包括手动断开）
	EventDisconnected EventType = "disconnected"
	// EventReconnecting 已安排重连定时器
	EventReconnecting EventType = "reconnecting"
	// EventReconnectAttempt 定时器触发，开始重连
	EventReconnectAttempt EventType = "reconnect.attempt"
	// EventError 错误
	EventError EventType = "error"
)

// Event 生命周期事件
type Event struct {
	Type    EventType
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
	Time    time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

type listener struct {
	fn     EventHandler
	active atomic.Bool
}

// dispatcher 单协程按提交顺序执行任务
// 入箱无界，提交方持锁时也不会阻塞
type dispatcher struct {
	log logger.Logger

	mu     sync.Mutex
	inbox  *queue.Queue
	closed bool

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}

	lmu       sync.RWMutex
	listeners []*listener
}

func newDispatcher(log logger.Logger) *dispatcher {
	d := &dispatcher{
		log:    log,
		inbox:  queue.New(),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// submit 提交任务，关闭后丢弃
func (d *dispatcher) submit(task func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.inbox.Add(task)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// emit 把事件投递给当前所有监听者
func (d *dispatcher) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.submit(func() {
		d.lmu.RLock()
		ls := append([]*listener(nil), d.listeners...)
		d.lmu.RUnlock()
		for _, l := range ls {
			if !l.active.Load() {
				continue
			}
			d.call(func() { l.fn(e) })
		}
	})
}

func (d *dispatcher) listen(fn EventHandler) (cancel func()) {
	l := &listener{fn: fn}
	l.active.Store(true)

	d.lmu.Lock()
	d.listeners = append(d.listeners, l)
	d.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			d.lmu.Lock()
			defer d.lmu.Unlock()
			for i, x := range d.listeners {
				if x == l {
					d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		for {
			task, ok := d.next()
			if !ok {
				break
			}
			d.call(task)
		}
		select {
		case <-d.signal:
		case <-d.stop:
			// 执行关闭前已提交的任务
			for {
				task, ok := d.next()
				if !ok {
					return
				}
				d.call(task)
			}
		}
	}
}

func (d *dispatcher) next() (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inbox.Length() == 0 {
		return nil, false
	}
	return d.inbox.Remove().(func()), true
}

func (d *dispatcher) call(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("wsclient: event handler panic", zap.Any("panic", r))
		}
	}()
	task()
}

// flush 等待此前提交的任务全部执行完
func (d *dispatcher) flush() {
	ch := make(chan struct{})
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		<-d.done
		return
	}
	d.submit(func() { close(ch) })
	select {
	case <-ch:
	case <-d.done:
	}
}

// close 停止协程，已提交任务会先执行完
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.stop)
	<-d.done
}
