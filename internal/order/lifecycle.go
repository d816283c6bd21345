package order

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/events"
	"ShopMCP-Chain/internal/policy"
	"ShopMCP-Chain/internal/quote"
	"ShopMCP-Chain/pkg/clock"
	"ShopMCP-Chain/pkg/keymutex"
	"ShopMCP-Chain/pkg/logger"
)

const maxSuggestions = 3

// PreviewRequest 描述一次订单预览。
type PreviewRequest struct {
	ItemRef         string   `json:"item_ref"`
	Quantity        int      `json:"quantity"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`
}

// QuantityOrDefault 在请求未携带数量时返回 MinQuantity；显式给出的值原样返回，由校验拒绝越界值。
func QuantityOrDefault(quantity *int) int {
	if quantity == nil {
		return MinQuantity
	}
	return *quantity
}

// Lifecycle 负责订单的创建、校验与状态流转。同一订单上的操作串行执行。
type Lifecycle struct {
	store     Store
	catalog   catalog.Catalog
	quotes    *quote.Service
	limits    policy.SpendingLimits
	publisher events.Publisher
	clock     clock.Clock
	newID     func() string
	newRef    func() string
	delivery  func() int
	locks     keymutex.KeyMutex
}

// Option 自定义 Lifecycle。
type Option func(*Lifecycle)

// WithClock 注入时钟。
func WithClock(c clock.Clock) Option {
	return func(l *Lifecycle) { l.clock = clock.Or(c) }
}

// WithIDGenerator 注入订单号生成器。
func WithIDGenerator(fn func() string) Option {
	return func(l *Lifecycle) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithReferenceGenerator 注入演示结算引用生成器。
func WithReferenceGenerator(fn func() string) Option {
	return func(l *Lifecycle) {
		if fn != nil {
			l.newRef = fn
		}
	}
}

// WithDeliveryDays 注入送达天数，用于替换默认的 2 到 5 天随机值。
func WithDeliveryDays(fn func() int) Option {
	return func(l *Lifecycle) {
		if fn != nil {
			l.delivery = fn
		}
	}
}

// WithPublisher 注入事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(l *Lifecycle) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithSpendingLimits 覆盖消费提醒阈值。
func WithSpendingLimits(limits policy.SpendingLimits) Option {
	return func(l *Lifecycle) { l.limits = limits }
}

// NewLifecycle 创建订单生命周期管理器。
func NewLifecycle(store Store, cat catalog.Catalog, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:     store,
		catalog:   cat,
		limits:    policy.Default(),
		publisher: events.Nop{},
		clock:     clock.System{},
		newID:     func() string { return "ord_" + uuid.NewString() },
		newRef:    func() string { return "demo_" + uuid.NewString() },
		delivery:  func() int { return 2 + rand.IntN(4) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.quotes = quote.NewService(l.clock)
	return l
}

// Limits 返回当前使用的消费提醒阈值。
func (l *Lifecycle) Limits() policy.SpendingLimits { return l.limits }

// CreatePreview 解析商品、计算总额并签发报价，以 preview 状态保存订单。
func (l *Lifecycle) CreatePreview(ctx context.Context, req PreviewRequest) (*Order, error) {
	if req.Quantity < MinQuantity || req.Quantity > MaxQuantity {
		return nil, xerrors.New(CodeInvalidQuantity, fmt.Sprintf("数量 %d 超出范围 [%d, %d]", req.Quantity, MinQuantity, MaxQuantity),
			xerrors.WithMetadata("quantity", fmt.Sprint(req.Quantity)))
	}
	ref := strings.TrimSpace(req.ItemRef)
	item, err := l.catalog.Lookup(ctx, ref)
	if err != nil {
		if xerrors.IsCategory(err, xerrors.CodeNotFound) {
			return nil, l.itemNotFound(ctx, ref)
		}
		return nil, err
	}
	if !item.InStock {
		return nil, xerrors.New(CodeOutOfStock, fmt.Sprintf("商品 %s 暂时缺货", item.Ref), xerrors.WithMetadata("ref", item.Ref))
	}

	total := item.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	q, err := l.quotes.Quote(total)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	order := &Order{
		ID:                l.newID(),
		ItemRef:           item.Ref,
		ItemTitle:         item.Title,
		Quantity:          req.Quantity,
		UnitPrice:         item.UnitPrice,
		TotalBase:         total,
		TotalToken:        q.AmountToken,
		Status:            StatusPreview,
		ShippingAddress:   req.ShippingAddress,
		Quote:             q,
		EstimatedDelivery: now.Add(time.Duration(l.delivery()) * 24 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.store.Create(ctx, order); err != nil {
		return nil, err
	}

	logger.Audit().Info("订单预览已创建",
		slog.String("order_id", order.ID),
		slog.String("item_ref", order.ItemRef),
		slog.Int("quantity", order.Quantity),
		slog.String("total", order.TotalBase.String()),
		slog.Time("expires_at", q.ExpiresAt))
	l.publish(ctx, events.OrderPreviewed, order)
	return cloneOrder(order), nil
}

func (l *Lifecycle) itemNotFound(ctx context.Context, ref string) error {
	opts := []xerrors.Option{xerrors.WithMetadata("ref", ref)}
	suggestions, err := l.catalog.Search(ctx, ref, maxSuggestions)
	if err != nil || len(suggestions) == 0 {
		suggestions, _ = l.catalog.Search(ctx, "", maxSuggestions)
	}
	if len(suggestions) > 0 {
		refs := make([]string, 0, maxSuggestions)
		for _, item := range suggestions {
			refs = append(refs, item.Ref)
			if len(refs) == maxSuggestions {
				break
			}
		}
		opts = append(opts, xerrors.WithMetadata("suggestions", strings.Join(refs, ",")))
	}
	return xerrors.New(catalog.CodeItemNotFound, fmt.Sprintf("商品 %s 不存在", ref), opts...)
}

// Place 将订单置为 confirmed 并记录结算引用。已确认的订单原样返回。
// 引用为空时生成演示引用。报价过期的订单不能下单。
func (l *Lifecycle) Place(ctx context.Context, orderID, paymentReference string) (*Order, error) {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Placed() {
		return order, nil
	}
	now := l.clock.Now()
	if order.Quote.Expired(now) {
		return nil, xerrors.New(CodeQuoteExpired, fmt.Sprintf("订单 %s 的报价已于 %s 过期", order.ID, order.Quote.ExpiresAt.Format(time.RFC3339)),
			xerrors.WithMetadata("order_id", order.ID))
	}

	reference := strings.TrimSpace(paymentReference)
	if reference == "" {
		reference = l.newRef()
		logger.L().Warn("未提供结算引用，使用演示引用",
			slog.String("order_id", order.ID),
			slog.String("payment_reference", reference))
	}

	previous := order.Status
	order.Status = StatusConfirmed
	order.PaymentReference = reference
	order.UpdatedAt = now
	order.ConfirmedAt = &now
	if err := l.store.Update(ctx, order, previous); err != nil {
		return nil, err
	}

	logger.Audit().Info("订单已下单",
		slog.String("order_id", order.ID),
		slog.String("total", order.TotalBase.String()),
		slog.String("payment_reference", reference))
	l.publish(ctx, events.OrderConfirmed, order)
	return order, nil
}

// MarkAwaitingPayment 在签发支付模板后将 preview 订单置为 pending_payment。
// 其他状态的订单原样返回。
func (l *Lifecycle) MarkAwaitingPayment(ctx context.Context, orderID string) (*Order, error) {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPreview {
		return order, nil
	}
	order.Status = StatusPendingPayment
	order.UpdatedAt = l.clock.Now()
	if err := l.store.Update(ctx, order, StatusPreview); err != nil {
		return nil, err
	}
	l.publish(ctx, events.OrderAwaitingPayment, order)
	return order, nil
}

// Get 返回订单。
func (l *Lifecycle) Get(ctx context.Context, orderID string) (*Order, error) {
	return l.store.Get(ctx, orderID)
}

// List 返回最近的订单。
func (l *Lifecycle) List(ctx context.Context, opts ListOptions) ([]*Order, error) {
	return l.store.List(ctx, opts)
}

func (l *Lifecycle) publish(ctx context.Context, typ events.Type, order *Order) {
	event := events.Event{
		Type:       typ,
		OrderID:    order.ID,
		Status:     string(order.Status),
		TotalBase:  order.TotalBase.String(),
		Reference:  order.PaymentReference,
		OccurredAt: order.UpdatedAt,
		Attributes: map[string]string{"item_ref": order.ItemRef},
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		logger.L().Warn("订单事件发布失败",
			slog.String("order_id", order.ID),
			slog.String("event", string(typ)),
			slog.Any("error", err))
	}
}
