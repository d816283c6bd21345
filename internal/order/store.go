package order

import "context"

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// ListOptions 控制订单列表查询。
type ListOptions struct {
	Limit    int
	Statuses []Status
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
}

// Store 抽象了订单记录的持久化接口。
type Store interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update 仅在当前状态等于 expected 时覆盖记录，否则返回 ErrOrderConflict。
	Update(ctx context.Context, order *Order, expected Status) error
	List(ctx context.Context, opts ListOptions) ([]*Order, error)
	Close() error
}
