package session

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	"ShopMCP-Chain/pkg/clock"
	"ShopMCP-Chain/pkg/keymutex"
)

// Manager 串行化同一会话上的所有修改，不同会话互不阻塞。
type Manager struct {
	store Store
	clock clock.Clock
	locks keymutex.KeyMutex
}

// NewManager 创建会话管理器，store 为空时使用内存存储。
func NewManager(store Store, clk clock.Clock) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{store: store, clock: clock.Or(clk)}
}

// Now 返回管理器使用的当前时间。
func (m *Manager) Now() time.Time { return m.clock.Now() }

// Get 返回会话快照，不存在时返回未保存的新会话。
func (m *Manager) Get(ctx context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s, found, err := m.store.Load(ctx, key.ID())
	if err != nil {
		return nil, err
	}
	if !found {
		return New(key, m.clock.Now()), nil
	}
	return s, nil
}

// Update 在会话锁内加载（必要时创建）会话、执行 fn 并保存。
// fn 返回错误时不保存任何修改。预览、确认与下单须和订单操作在同一把锁内完成，
// 只能经由 Update 修改。
func (m *Manager) Update(ctx context.Context, key Key, fn func(s *Session, now time.Time) error) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(key.ID())
	defer unlock()

	now := m.clock.Now()
	s, found, err := m.store.Load(ctx, key.ID())
	if err != nil {
		return nil, err
	}
	if !found {
		s = New(key, now)
	}
	if fn != nil {
		if err := fn(s, now); err != nil {
			return nil, err
		}
	}
	s.UpdatedAt = now
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Touch 确保会话存在并刷新更新时间。
func (m *Manager) Touch(ctx context.Context, key Key) (*Session, error) {
	return m.Update(ctx, key, nil)
}

// SelectItem 选中商品并使已有确认失效。
func (m *Manager) SelectItem(ctx context.Context, key Key, item catalog.Item) (*Session, error) {
	return m.Update(ctx, key, func(s *Session, _ time.Time) error {
		s.SelectItem(item)
		return nil
	})
}

// LinkWallet 关联钱包。
func (m *Manager) LinkWallet(ctx context.Context, key Key, address string, balance *decimal.Decimal) (*Session, error) {
	return m.Update(ctx, key, func(s *Session, _ time.Time) error {
		s.LinkWallet(address, balance)
		return nil
	})
}

// RefreshBalance 更新钱包余额。
func (m *Manager) RefreshBalance(ctx context.Context, key Key, balance decimal.Decimal) (*Session, error) {
	return m.Update(ctx, key, func(s *Session, _ time.Time) error {
		s.RefreshBalance(balance)
		return nil
	})
}

// Close 关闭底层存储。
func (m *Manager) Close() error { return m.store.Close() }
