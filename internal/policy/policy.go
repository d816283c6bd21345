// Package policy 根据订单总额给出消费提醒，并决定确认时是否需要复述金额。
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/confirm"
)

// 默认阈值，单位为展示货币。
var (
	DefaultLargeOrderThreshold = decimal.NewFromInt(100)
	DefaultHighValueThreshold  = decimal.NewFromInt(500)
)

// Evaluation 是针对某个订单总额的评估结果。
type Evaluation struct {
	Total             decimal.Decimal `json:"total"`
	Warnings          []string        `json:"warnings"`
	RequiresAmountAck bool            `json:"requires_amount_ack"`
}

// SpendingLimits 描述大额与高价值订单的阈值。
type SpendingLimits struct {
	LargeOrder decimal.Decimal
	HighValue  decimal.Decimal
}

// Default 返回默认阈值的策略。
func Default() SpendingLimits {
	return SpendingLimits{LargeOrder: DefaultLargeOrderThreshold, HighValue: DefaultHighValueThreshold}
}

// Evaluate 计算 totalBase 对应的提醒。
func (p SpendingLimits) Evaluate(totalBase decimal.Decimal) Evaluation {
	eval := Evaluation{Total: totalBase, Warnings: []string{}}
	formatted := FormatAmount(totalBase)
	if totalBase.GreaterThan(p.LargeOrder) {
		eval.Warnings = append(eval.Warnings,
			fmt.Sprintf("Large order: the total is %s.", formatted))
	}
	if totalBase.GreaterThan(p.HighValue) {
		eval.Warnings = append(eval.Warnings,
			fmt.Sprintf("High-value order: %s is above %s. Confirm by restating the total, for example \"I confirm the %s purchase\".",
				formatted, FormatAmount(p.HighValue), formatted))
		eval.RequiresAmountAck = true
	}
	return eval
}

// Satisfied 判断一次回复是否满足确认契约：必须是肯定意图，
// 高价值订单还必须在回复中写出订单总额。
func (e Evaluation) Satisfied(result confirm.Result, utterance string) bool {
	if !result.IsConfirmed() {
		return false
	}
	if !e.RequiresAmountAck {
		return true
	}
	return AcknowledgesAmount(utterance, e.Total)
}

// FormatAmount 以 $1,234.50 的形式格式化金额。
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + "$" + grouped.String() + "." + frac
}

var amountPattern = regexp.MustCompile(`\$?\s?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`)

// AcknowledgesAmount 判断 utterance 中是否出现 total 的精确小数形式或其取整后的整数，
// 允许带 $ 符号和千分位。
func AcknowledgesAmount(utterance string, total decimal.Decimal) bool {
	rounded := total.Round(0)
	for _, groups := range amountPattern.FindAllStringSubmatch(utterance, -1) {
		value, err := decimal.NewFromString(strings.ReplaceAll(groups[1], ",", ""))
		if err != nil {
			continue
		}
		if value.Equal(total) || value.Equal(rounded) {
			return true
		}
	}
	return false
}
