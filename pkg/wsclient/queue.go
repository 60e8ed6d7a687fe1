package wsclient

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Outbound 待发送的出站消息
type Outbound struct {
	Type          string    // 消息类型
	Frame         []byte    // 编码后的 JSON 帧
	CorrelationID string    // 关联 ID
	CreatedAt     time.Time // 生成时间
}

// Queue 有界 FIFO，断线期间缓存出站消息；满时丢弃最旧的一条
type Queue struct {
	mu      sync.Mutex
	buf     *queue.Queue
	max     int
	dropped atomic.Int64
}

// NewQueue 创建队列，max <= 0 时按 1 处理
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 1
	}
	return &Queue{buf: queue.New(), max: max}
}

// Enqueue 入队，返回是否淘汰了最旧的消息
func (q *Queue) Enqueue(msg Outbound) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.buf.Length() >= q.max {
		q.buf.Remove()
		q.dropped.Add(1)
		evicted = true
	}
	q.buf.Add(msg)
	return evicted
}

// DrainAll 按入队顺序取出全部消息并清空队列
func (q *Queue) DrainAll() []Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

func (q *Queue) drainLocked() []Outbound {
	n := q.buf.Length()
	out := make([]Outbound, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.buf.Remove().(Outbound))
	}
	return out
}

// Requeue 把未发出的消息放回队首，仍受容量限制
func (q *Queue) Requeue(msgs []Outbound) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := q.drainLocked()
	all := append(append(make([]Outbound, 0, len(msgs)+len(rest)), msgs...), rest...)
	if over := len(all) - q.max; over > 0 {
		all = all[over:]
		q.dropped.Add(int64(over))
	}
	for _, m := range all {
		q.buf.Add(m)
	}
}

// Len 当前长度
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

// Cap 容量
func (q *Queue) Cap() int { return q.max }

// Dropped 累计淘汰数
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
