package order

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "ShopMCP-Chain/internal/errors"
)

// MemoryStore 以内存方式保存订单，进程重启后丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, order *Order) error {
	if order == nil || strings.TrimSpace(order.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrOrderConflict
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, order *Order, expected Status) error {
	if order == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if current.Status != expected {
		return ErrOrderConflict
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

// List 按创建时间倒序返回订单。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Order, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Order, 0, len(m.orders))
	for _, order := range m.orders {
		if !statusMatches(order.Status, opts.Statuses) {
			continue
		}
		results = append(results, cloneOrder(order))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

func statusMatches(status Status, allowed []Status) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
