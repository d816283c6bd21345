// Package session 维护按渠道与用户区分的购物会话。
package session

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/quote"
)

// Phase 是会话所处的购物阶段。
type Phase string

const (
	PhaseDiscovery    Phase = "discovery"
	PhaseSelection    Phase = "selection"
	PhasePreview      Phase = "preview"
	PhaseConfirmation Phase = "confirmation"
	PhasePayment      Phase = "payment"
	PhaseComplete     Phase = "complete"
)

// CodeInvalidKey 表示会话标识缺失。
const CodeInvalidKey xerrors.Code = "SESSION_INVALID_KEY"

func init() {
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{
		Message:  "channel and user id are required",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
}

// Key 标识一个会话。
type Key struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

// ID 返回确定性的会话 ID：channel:userID。
func (k Key) ID() string {
	return strings.TrimSpace(k.Channel) + ":" + strings.TrimSpace(k.UserID)
}

// Empty 判断是否未携带会话信息。
func (k Key) Empty() bool {
	return strings.TrimSpace(k.Channel) == "" && strings.TrimSpace(k.UserID) == ""
}

// Validate 校验渠道与用户均已提供。
func (k Key) Validate() error {
	if strings.TrimSpace(k.Channel) == "" || strings.TrimSpace(k.UserID) == "" {
		return xerrors.New(CodeInvalidKey, "")
	}
	return nil
}

// ActivePreview 记录会话当前的订单预览。
type ActivePreview struct {
	OrderID    string          `json:"order_id"`
	TotalBase  decimal.Decimal `json:"total_base"`
	TotalToken decimal.Decimal `json:"total_token"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Session 是一次购物会话的状态。
type Session struct {
	ID                   string           `json:"id"`
	Channel              string           `json:"channel"`
	UserID               string           `json:"user_id"`
	Phase                Phase            `json:"phase"`
	SelectedItem         *catalog.Item    `json:"selected_item,omitempty"`
	ActivePreview        *ActivePreview   `json:"active_preview,omitempty"`
	ConfirmationReceived bool             `json:"confirmation_received"`
	WalletLinked         bool             `json:"wallet_linked"`
	WalletAddress        string           `json:"wallet_address,omitempty"`
	WalletBalance        *decimal.Decimal `json:"wallet_balance,omitempty"`
	LastOrderID          string           `json:"last_order_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// New 创建处于 discovery 阶段的会话。
func New(key Key, now time.Time) *Session {
	return &Session{
		ID:        key.ID(),
		Channel:   strings.TrimSpace(key.Channel),
		UserID:    strings.TrimSpace(key.UserID),
		Phase:     PhaseDiscovery,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SelectItem 选中商品。已有的预览与确认都会失效。
func (s *Session) SelectItem(item catalog.Item) {
	selected := item
	s.SelectedItem = &selected
	s.ActivePreview = nil
	s.ConfirmationReceived = false
	s.Phase = PhaseSelection
}

// RecordPreview 记录新的订单预览，有效期从 now 起算。任何已有的确认都会失效。
func (s *Session) RecordPreview(orderID string, totalBase, totalToken decimal.Decimal, now time.Time) {
	s.ActivePreview = &ActivePreview{
		OrderID:    orderID,
		TotalBase:  totalBase,
		TotalToken: totalToken,
		CreatedAt:  now,
		ExpiresAt:  now.Add(quote.TTL),
	}
	s.ConfirmationReceived = false
	s.Phase = PhasePreview
}

// RecordConfirmation 记录用户对当前预览的确认或否定。
func (s *Session) RecordConfirmation(confirmed bool) {
	s.ConfirmationReceived = confirmed
	if confirmed {
		s.Phase = PhaseConfirmation
		return
	}
	s.Phase = PhasePreview
}

// IsPreviewValid 判断当前预览在 now 时刻是否仍有效。
func (s *Session) IsPreviewValid(now time.Time) bool {
	return s.ActivePreview != nil && now.Before(s.ActivePreview.ExpiresAt)
}

// LinkWallet 关联钱包地址及可选的余额。
func (s *Session) LinkWallet(address string, balance *decimal.Decimal) {
	s.WalletLinked = true
	s.WalletAddress = strings.TrimSpace(address)
	s.WalletBalance = cloneDecimal(balance)
}

// RefreshBalance 更新钱包余额。
func (s *Session) RefreshBalance(balance decimal.Decimal) {
	s.WalletBalance = &balance
}

// MarkAwaitingPayment 在签发支付模板后进入 payment 阶段。
func (s *Session) MarkAwaitingPayment() {
	s.Phase = PhasePayment
}

// MarkPaid 在订单下单后结束本轮购物。
func (s *Session) MarkPaid(orderID string) {
	s.LastOrderID = orderID
	s.Phase = PhaseComplete
}

// PlacementInput 返回下单校验所需的会话快照。
func (s *Session) PlacementInput() order.PlacementInput {
	in := order.PlacementInput{
		Confirmed:     s.ConfirmationReceived,
		WalletLinked:  s.WalletLinked,
		WalletBalance: cloneDecimal(s.WalletBalance),
	}
	if s.ActivePreview != nil {
		in.HasPreview = true
		in.PreviewTotal = s.ActivePreview.TotalBase
		in.PreviewExpiresAt = s.ActivePreview.ExpiresAt
	}
	return in
}

// Clone 返回深拷贝。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.SelectedItem != nil {
		item := *s.SelectedItem
		item.Keywords = append([]string(nil), s.SelectedItem.Keywords...)
		clone.SelectedItem = &item
	}
	if s.ActivePreview != nil {
		preview := *s.ActivePreview
		clone.ActivePreview = &preview
	}
	clone.WalletBalance = cloneDecimal(s.WalletBalance)
	return &clone
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
