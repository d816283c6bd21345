// Package events 负责发布订单生命周期事件。
package events

import (
	"context"
	"sync"
	"time"
)

// Type 是事件类型，同时作为消息路由键。
type Type string

const (
	OrderPreviewed       Type = "order.previewed"
	OrderAwaitingPayment Type = "order.awaiting_payment"
	OrderConfirmed       Type = "order.confirmed"
)

// Event 描述一次订单状态变化。
type Event struct {
	Type       Type              `json:"type"`
	OrderID    string            `json:"order_id"`
	Status     string            `json:"status"`
	TotalBase  string            `json:"total_base"`
	Reference  string            `json:"payment_reference,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher 投递订单事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryPublisher 将事件保存在内存中，主要用于测试与单机部署。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemoryPublisher 创建内存发布器，最多保留 limit 条事件。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryPublisher{limit: limit}
}

// Publish 实现 Publisher。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	return nil
}

// Events 返回已发布事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close 实现 Publisher。
func (p *MemoryPublisher) Close() error { return nil }

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

var (
	_ Publisher = (*MemoryPublisher)(nil)
	_ Publisher = Nop{}
)
