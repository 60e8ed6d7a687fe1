package wsclient

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy 重连退避策略
//
//	delay = min(BaseInterval × 2^(attempt−1), MaxInterval) + U[0, Jitter)
type Policy struct {
	BaseInterval time.Duration // 首次重连间隔（默认 1s）
	MaxInterval  time.Duration // 指数部分上限（默认 30s）
	Jitter       time.Duration // 随机抖动窗口（默认 1s）
	Exponential  bool          // false 时每次都使用 BaseInterval

	rand func() float64 // [0,1)，测试可替换
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval: time.Second,
		MaxInterval:  30 * time.Second,
		Jitter:       time.Second,
		Exponential:  true,
	}
}

// Validate 验证策略
func (p Policy) Validate() error {
	if p.BaseInterval <= 0 {
		return fmt.Errorf("BaseInterval must be positive, got %v", p.BaseInterval)
	}
	if p.MaxInterval < p.BaseInterval {
		return fmt.Errorf("MaxInterval (%v) must not be less than BaseInterval (%v)", p.MaxInterval, p.BaseInterval)
	}
	if p.Jitter < 0 {
		return fmt.Errorf("Jitter must not be negative, got %v", p.Jitter)
	}
	return nil
}

// Base 第 attempt 次（从 1 开始）重连的不含抖动部分
func (p Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if !p.Exponential {
		return p.BaseInterval
	}
	// 浮点计算，大 attempt 时饱和到上限而不是溢出
	d := float64(p.BaseInterval) * math.Pow(2, float64(attempt-1))
	if d >= float64(p.MaxInterval) || math.IsInf(d, 1) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Delay 第 attempt 次重连的实际等待时间
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base(attempt)
	if p.Jitter <= 0 {
		return d
	}
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(r()*float64(p.Jitter))
}
