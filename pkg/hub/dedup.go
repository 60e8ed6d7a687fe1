package hub

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// dedup 记录已处理的 correlation_id
//
// 两个过滤器轮换：当前过滤器写满后降为上一代，保证最近 capacity 个 id 始终可查。
type dedup struct {
	mu       sync.Mutex
	capacity uint
	fp       float64
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	count    uint
}

func newDedup(capacity uint, fp float64) *dedup {
	if capacity == 0 {
		return nil
	}
	return &dedup{
		capacity: capacity,
		fp:       fp,
		current:  bloom.NewWithEstimates(capacity, fp),
	}
}

// seen 已出现过返回 true；否则记录并返回 false
func (d *dedup) seen(id string) bool {
	if d == nil || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.previous != nil && d.previous.TestString(id) {
		return true
	}
	if d.current.TestOrAddString(id) {
		return true
	}
	d.count++
	if d.count >= d.capacity {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, d.fp)
		d.count = 0
	}
	return false
}
