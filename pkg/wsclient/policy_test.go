package wsclient

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyBase(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{64, 30 * time.Second},
		{10000, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Base(tt.attempt), "attempt %d", tt.attempt)
	}

	p.Exponential = false
	assert.Equal(t, time.Second, p.Base(7))
}

func TestPolicyBaseMonotonic(t *testing.T) {
	p := Policy{BaseInterval: 300 * time.Millisecond, MaxInterval: 45 * time.Second, Exponential: true}
	prev := time.Duration(0)
	for n := 1; n <= 200; n++ {
		d := p.Base(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, p.MaxInterval)
		prev = d
	}
}

func TestPolicyDelayBounds(t *testing.T) {
	p := DefaultPolicy()
	r := rand.New(rand.NewPCG(1, 2))
	p.rand = r.Float64

	for n := 1; n <= 100; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, p.Base(n))
		assert.Less(t, d, p.Base(n)+p.Jitter)
		assert.LessOrEqual(t, d, p.MaxInterval+p.Jitter)
	}

	p.rand = func() float64 { return 0 }
	assert.Equal(t, time.Second, p.Delay(1))

	p.Jitter = 0
	p.rand = func() float64 { return 0.99 }
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{}.Validate())
	assert.Error(t, Policy{BaseInterval: time.Second, MaxInterval: time.Millisecond}.Validate())
	assert.Error(t, Policy{BaseInterval: time.Second, MaxInterval: time.Second, Jitter: -1}.Validate())
}
