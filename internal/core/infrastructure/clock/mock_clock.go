package clock

import (
	"sync"
	"time"

	infraClock "github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
)

// MockClock 手动推进的时钟，供区块头时间戳相关测试使用
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock 以 initial 为当前时间创建测试时钟
func NewMockClock(initial time.Time) *MockClock { return &MockClock{now: initial} }

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *MockClock) UnixMilli() int64                { return c.Now().UnixMilli() }
func (c *MockClock) Source() string                  { return "mock" }

// Advance 把当前时间向后推 d
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 把当前时间设为 t
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var _ infraClock.Clock = (*MockClock)(nil)
