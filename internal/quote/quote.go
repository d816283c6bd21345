// Package quote 负责生成带固定有效期的报价。支付代币与展示货币 1:1 锚定，
// 因此报价只做恒等换算。
package quote

import (
	"time"

	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/pkg/clock"
)

// TTL 是报价的固定有效期。
const TTL = 30 * time.Minute

// CodeInvalidAmount 表示报价金额非法。
const CodeInvalidAmount xerrors.Code = "QUOTE_INVALID_AMOUNT"

func init() {
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "quote amount must not be negative",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
}

// PegRate 是代币对展示货币的固定汇率。
var PegRate = decimal.NewFromInt(1)

// PriceQuote 是签发后不可变的报价。
type PriceQuote struct {
	AmountBase  decimal.Decimal `json:"amount_base"`
	AmountToken decimal.Decimal `json:"amount_token"`
	Rate        decimal.Decimal `json:"rate"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Expired 判断报价在 now 时刻是否已过期（now >= ExpiresAt）。
func (q PriceQuote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// Service 签发报价。
type Service struct {
	clock clock.Clock
}

// NewService 创建报价服务，clk 为空时使用系统时钟。
func NewService(clk clock.Clock) *Service {
	return &Service{clock: clock.Or(clk)}
}

// Quote 为 amount 生成报价。金额为零是合法的，仅用于信息展示。
func (s *Service) Quote(amount decimal.Decimal) (PriceQuote, error) {
	if amount.IsNegative() {
		return PriceQuote{}, xerrors.New(CodeInvalidAmount, "报价金额不能为负数",
			xerrors.WithMetadata("amount", amount.String()))
	}
	return PriceQuote{
		AmountBase:  amount,
		AmountToken: amount.Mul(PegRate),
		Rate:        PegRate,
		ExpiresAt:   s.clock.Now().Add(TTL),
	}, nil
}
