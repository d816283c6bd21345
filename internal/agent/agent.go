package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	"ShopMCP-Chain/internal/confirm"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/ledger"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/policy"
	"ShopMCP-Chain/internal/quote"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/clock"
)

const (
	CodeNoActivePreview   xerrors.Code = "AGENT_NO_ACTIVE_PREVIEW"
	CodePreviewMismatch   xerrors.Code = "AGENT_PREVIEW_MISMATCH"
	CodeOrderPlaced       xerrors.Code = "AGENT_ORDER_ALREADY_PLACED"
	CodeWalletNotLinked   xerrors.Code = "AGENT_WALLET_NOT_LINKED"
	CodeLedgerMissing     xerrors.Code = "AGENT_LEDGER_NOT_CONFIGURED"
	CodeSignerMissing     xerrors.Code = "AGENT_SIGNER_NOT_CONFIGURED"
	CodeMerchantMissing   xerrors.Code = "AGENT_MERCHANT_NOT_CONFIGURED"
	CodeUtteranceRequired xerrors.Code = "AGENT_UTTERANCE_REQUIRED"
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeNoActivePreview:   {Message: "no active order preview in this session", Severity: xerrors.SeverityInfo, Category: xerrors.CodePrecondition},
		CodePreviewMismatch:   {Message: "order is not the session's active preview", Severity: xerrors.SeverityInfo, Category: xerrors.CodePrecondition},
		CodeOrderPlaced:       {Message: "order has already been placed", Severity: xerrors.SeverityInfo, Category: xerrors.CodePrecondition},
		CodeWalletNotLinked:   {Message: "no wallet linked to this session", Severity: xerrors.SeverityInfo, Category: xerrors.CodePrecondition},
		CodeLedgerMissing:     {Message: "ledger is not configured", Severity: xerrors.SeverityWarning, Category: xerrors.CodeInitializationFailure},
		CodeSignerMissing:     {Message: "wallet signer is not configured", Severity: xerrors.SeverityWarning, Category: xerrors.CodeInitializationFailure},
		CodeMerchantMissing:   {Message: "merchant address is not configured", Severity: xerrors.SeverityWarning, Category: xerrors.CodeInitializationFailure},
		CodeUtteranceRequired: {Message: "a confirmation utterance is required", Severity: xerrors.SeverityInfo, Category: xerrors.CodeInvalidArgument},
	} {
		xerrors.Register(code, attr)
	}
}

// Agent 是两种调用面共用的护栏引擎。
type Agent struct {
	catalog    catalog.Catalog
	orders     *order.Lifecycle
	sessions   *session.Manager
	classifier *confirm.Classifier
	quotes     *quote.Service
	ledger     ledger.Ledger
	signer     *ledger.LocalSigner
	merchant   string
	chain      string
	clock      clock.Clock
	maxResults int
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLedger 配置账本协作方，未配置时钱包与支付相关操作不可用。
func WithLedger(l ledger.Ledger) Option {
	return func(a *Agent) { a.ledger = l }
}

// WithSigner 配置本地签名器。
func WithSigner(s *ledger.LocalSigner) Option {
	return func(a *Agent) { a.signer = s }
}

// WithMerchantAddress 设置收款地址。
func WithMerchantAddress(address string) Option {
	return func(a *Agent) { a.merchant = strings.TrimSpace(address) }
}

// WithChainName 设置能力文档中展示的链名称。
func WithChainName(name string) Option {
	return func(a *Agent) { a.chain = strings.TrimSpace(name) }
}

// WithClassifier 替换确认分类器。
func WithClassifier(c *confirm.Classifier) Option {
	return func(a *Agent) {
		if c != nil {
			a.classifier = c
		}
	}
}

// WithClock 注入时钟。
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = clock.Or(c) }
}

// WithMaxResults 设置默认的搜索结果数量。
func WithMaxResults(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxResults = n
		}
	}
}

// New 创建一个 Agent。
func New(cat catalog.Catalog, orders *order.Lifecycle, sessions *session.Manager, opts ...Option) *Agent {
	a := &Agent{
		catalog:    cat,
		orders:     orders,
		sessions:   sessions,
		classifier: confirm.Default(),
		clock:      clock.System{},
		maxResults: catalog.DefaultMaxResults,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.quotes = quote.NewService(a.clock)
	return a
}

// Limits 返回订单使用的消费提醒阈值。
func (a *Agent) Limits() policy.SpendingLimits { return a.orders.Limits() }

// Search 在商品目录中检索，带会话时顺带创建会话。
func (a *Agent) Search(ctx context.Context, key session.Key, query string, maxResults int) ([]catalog.Item, error) {
	if maxResults <= 0 {
		maxResults = a.maxResults
	}
	items, err := a.catalog.Search(ctx, strings.TrimSpace(query), maxResults)
	if err != nil {
		return nil, err
	}
	if !key.Empty() {
		if _, err := a.sessions.Touch(ctx, key); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Quote 为金额报价。
func (a *Agent) Quote(amount decimal.Decimal) (quote.PriceQuote, error) {
	return a.quotes.Quote(amount)
}

// QuoteItem 为商品按数量报价，不创建订单。
func (a *Agent) QuoteItem(ctx context.Context, ref string, quantity int) (quote.PriceQuote, error) {
	if quantity < order.MinQuantity || quantity > order.MaxQuantity {
		return quote.PriceQuote{}, xerrors.New(order.CodeInvalidQuantity,
			fmt.Sprintf("数量 %d 超出范围 [%d, %d]", quantity, order.MinQuantity, order.MaxQuantity))
	}
	item, err := a.catalog.Lookup(ctx, strings.TrimSpace(ref))
	if err != nil {
		return quote.PriceQuote{}, err
	}
	return a.quotes.Quote(item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// SelectItem 选中商品，已有的预览与确认随之失效。
func (a *Agent) SelectItem(ctx context.Context, key session.Key, ref string) (*session.Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	item, err := a.catalog.Lookup(ctx, strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return a.sessions.SelectItem(ctx, key, item)
}

// PreviewResult 是订单预览的结果。
type PreviewResult struct {
	Order      *order.Order      `json:"order"`
	Evaluation policy.Evaluation `json:"evaluation"`
	Session    *session.Session  `json:"session,omitempty"`
}

// Preview 创建订单预览。带会话时记录为会话的当前预览，
// 请求未指定商品时使用会话中已选中的商品。
func (a *Agent) Preview(ctx context.Context, key session.Key, req order.PreviewRequest) (*PreviewResult, error) {
	if strings.TrimSpace(req.ItemRef) == "" && !key.Empty() {
		s, err := a.sessions.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if s.SelectedItem != nil {
			req.ItemRef = s.SelectedItem.Ref
		}
	}
	if strings.TrimSpace(req.ItemRef) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "item_ref 不能为空")
	}

	created, err := a.orders.CreatePreview(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &PreviewResult{Order: created, Evaluation: a.orders.Limits().Evaluate(created.TotalBase)}
	if key.Empty() {
		return result, nil
	}
	result.Session, err = a.recordPreview(ctx, key, created)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Agent) recordPreview(ctx context.Context, key session.Key, o *order.Order) (*session.Session, error) {
	return a.sessions.Update(ctx, key, func(s *session.Session, now time.Time) error {
		if s.SelectedItem == nil || !strings.EqualFold(s.SelectedItem.Ref, o.ItemRef) {
			s.SelectItem(catalog.Item{Ref: o.ItemRef, Title: o.ItemTitle, UnitPrice: o.UnitPrice, InStock: true})
		}
		s.RecordPreview(o.ID, o.TotalBase, o.TotalToken, now)
		return nil
	})
}

// Session 返回会话快照。
func (a *Agent) Session(ctx context.Context, key session.Key) (*session.Session, error) {
	return a.sessions.Get(ctx, key)
}

// OrderStatus 返回订单记录。
func (a *Agent) OrderStatus(ctx context.Context, orderID string) (*order.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order_id 不能为空")
	}
	return a.orders.Get(ctx, strings.TrimSpace(orderID))
}

// ListOrders 返回最近的订单。
func (a *Agent) ListOrders(ctx context.Context, opts order.ListOptions) ([]*order.Order, error) {
	return a.orders.List(ctx, opts)
}

// Verify 向账本核验结算引用。
func (a *Agent) Verify(ctx context.Context, reference string) (ledger.Settlement, error) {
	if err := a.requireLedger(); err != nil {
		return ledger.Settlement{}, err
	}
	if strings.TrimSpace(reference) == "" {
		return ledger.Settlement{}, xerrors.New(xerrors.CodeInvalidArgument, "reference 不能为空")
	}
	return a.ledger.Verify(ctx, reference)
}
