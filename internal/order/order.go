// Package order 管理订单从预览到确认的生命周期。
package order

import (
	"time"

	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/quote"
)

// Status 表示订单状态。
type Status string

const (
	StatusPreview        Status = "preview"
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusShipped        Status = "shipped"
)

// 数量上下限。
const (
	MinQuantity = 1
	MaxQuantity = 10
)

// Address 是收货地址。
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order 是订单记录。订单从不删除。
type Order struct {
	ID                string           `json:"id"`
	ItemRef           string           `json:"item_ref"`
	ItemTitle         string           `json:"item_title"`
	Quantity          int              `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	TotalBase         decimal.Decimal  `json:"total_base"`
	TotalToken        decimal.Decimal  `json:"total_token"`
	Status            Status           `json:"status"`
	ShippingAddress   *Address         `json:"shipping_address,omitempty"`
	PaymentReference  string           `json:"payment_reference,omitempty"`
	Quote             quote.PriceQuote `json:"quote"`
	EstimatedDelivery time.Time        `json:"estimated_delivery"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ConfirmedAt       *time.Time       `json:"confirmed_at,omitempty"`
}

// Placed 判断订单是否已经下单。
func (o *Order) Placed() bool {
	return o.Status == StatusConfirmed || o.Status == StatusShipped
}

const (
	CodeOrderNotFound   xerrors.Code = "ORDER_NOT_FOUND"
	CodeOrderConflict   xerrors.Code = "ORDER_CONFLICT"
	CodeInvalidQuantity xerrors.Code = "ORDER_INVALID_QUANTITY"
	CodeOutOfStock      xerrors.Code = "ORDER_OUT_OF_STOCK"
	CodeQuoteExpired    xerrors.Code = "ORDER_QUOTE_EXPIRED"
)

var (
	// ErrOrderNotFound 表示订单不存在。
	ErrOrderNotFound = xerrors.New(CodeOrderNotFound, "order not found")
	// ErrOrderConflict 表示订单已被并发修改或 ID 重复。
	ErrOrderConflict = xerrors.New(CodeOrderConflict, "order conflict")
)

func init() {
	xerrors.Register(CodeOrderNotFound, xerrors.Attributes{
		Message:  "order not found",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeNotFound,
	})
	xerrors.Register(CodeOrderConflict, xerrors.Attributes{
		Message:  "order conflict",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CodeConflict,
	})
	xerrors.Register(CodeInvalidQuantity, xerrors.Attributes{
		Message:  "quantity must be between 1 and 10",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
	xerrors.Register(CodeOutOfStock, xerrors.Attributes{
		Message:  "item is out of stock",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
	xerrors.Register(CodeQuoteExpired, xerrors.Attributes{
		Message:  "order quote has expired",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodePrecondition,
	})
}

func cloneOrder(o *Order) *Order {
	clone := *o
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		clone.ShippingAddress = &addr
	}
	if o.ConfirmedAt != nil {
		at := *o.ConfirmedAt
		clone.ConfirmedAt = &at
	}
	return &clone
}
