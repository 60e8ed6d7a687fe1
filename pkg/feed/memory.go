package feed

import (
	"context"
	"sync"
)

// Memory 进程内数据源，测试和手动注入使用
type Memory struct {
	ch        chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemory buffer 为待处理事件上限
func NewMemory(buffer int) *Memory {
	return &Memory{ch: make(chan Event, buffer), done: make(chan struct{})}
}

func (m *Memory) Name() string { return "memory" }

// Push 阻塞到事件入队、ctx 取消或数据源关闭
func (m *Memory) Push(ctx context.Context, e Event) error {
	select {
	case <-m.done:
		return ErrSourceClosed
	default:
	}
	select {
	case m.ch <- e:
		return nil
	case <-m.done:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收，Run 处理完已入队事件后返回
func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Memory) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-m.ch:
			if err := sink.Publish(ctx, e); err != nil {
				return err
			}
		case <-m.done:
			for {
				select {
				case e := <-m.ch:
					if err := sink.Publish(ctx, e); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}
