package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/policy"
)

// 阻断原因与提醒文案。
const (
	ErrNoPreview        = "No order preview exists. Preview the order before placing it."
	ErrPreviewExpired   = "The order preview has expired. Create a new preview to refresh the price."
	ErrNotConfirmed     = "The order has not been confirmed. Ask the user to confirm the preview first."
	WarnWalletNotLinked = "No wallet is linked. Link a wallet before paying with tokens."
)

// PlacementInput 是下单校验所需的会话快照。
type PlacementInput struct {
	HasPreview       bool
	PreviewTotal     decimal.Decimal
	PreviewExpiresAt time.Time
	Confirmed        bool
	WalletLinked     bool
	WalletBalance    *decimal.Decimal
}

// Validation 是下单校验结果。Errors 阻断下单，Warnings 只做提醒。
type Validation struct {
	CanPlace bool     `json:"can_place"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidatePlacement 检查会话是否满足下单条件。
func (l *Lifecycle) ValidatePlacement(in PlacementInput) Validation {
	return validatePlacement(in, l.clock.Now(), l.limits)
}

func validatePlacement(in PlacementInput, now time.Time, limits policy.SpendingLimits) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}
	if !in.HasPreview {
		v.Errors = append(v.Errors, ErrNoPreview)
	} else if !now.Before(in.PreviewExpiresAt) {
		v.Errors = append(v.Errors, ErrPreviewExpired)
	}
	if !in.Confirmed {
		v.Errors = append(v.Errors, ErrNotConfirmed)
	}

	if !in.WalletLinked {
		v.Warnings = append(v.Warnings, WarnWalletNotLinked)
	} else if in.HasPreview && in.WalletBalance != nil && in.WalletBalance.LessThan(in.PreviewTotal) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Insufficient balance: the wallet holds %s but the order total is %s.",
			policy.FormatAmount(*in.WalletBalance), policy.FormatAmount(in.PreviewTotal)))
	}
	if in.HasPreview {
		v.Warnings = append(v.Warnings, limits.Evaluate(in.PreviewTotal).Warnings...)
	}

	v.CanPlace = len(v.Errors) == 0
	return v
}
