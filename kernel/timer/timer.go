// Package timer is the kernel's clock source.
package timer

import (
	"sync"
	"time"
)

// Clock reports time elapsed since boot.
type Clock interface {
	TimeUS() uint64
	TimeMS() uint64
}

// SystemClock measures wall time from its creation.
type SystemClock struct {
	boot time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{boot: time.Now()}
}

func (c *SystemClock) TimeUS() uint64 {
	return uint64(time.Since(c.boot).Microseconds())
}

func (c *SystemClock) TimeMS() uint64 {
	return uint64(time.Since(c.boot).Milliseconds())
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

func (c *ManualClock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

func (c *ManualClock) TimeUS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.now.Microseconds())
}

func (c *ManualClock) TimeMS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.now.Milliseconds())
}
