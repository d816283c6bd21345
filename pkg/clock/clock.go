// Package clock 提供可注入的时钟，报价有效期、预览过期等判断都通过它取当前时间，
// 以便测试中精确控制时间推进。
package clock

import (
	"sync"
	"time"
)

// Clock 返回当前时间。
type Clock interface {
	Now() time.Time
}

// System 返回系统时间，只在进程入口处使用。
type System struct{}

// Now 实现 Clock。
func (System) Now() time.Time { return time.Now() }

// Fixed 总是返回同一时刻。
type Fixed time.Time

// Now 实现 Clock。
func (f Fixed) Now() time.Time { return time.Time(f) }

// Manual 是可以手动推进的时钟，适合验证过期逻辑。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 创建从 start 开始的手动时钟。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now 实现 Clock。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 将时钟向前推进 d。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Or 在 c 为空时回退到系统时钟。
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
