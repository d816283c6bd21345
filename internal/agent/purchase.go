package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/ledger"
	"ShopMCP-Chain/internal/observability/metrics"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/policy"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/logger"
)

const (
	purchaseCandidates = 10
	maxAlternatives    = 3
)

// PurchaseRequest 是单次调用购买的输入。
type PurchaseRequest struct {
	Session      session.Key      `json:"session"`
	Query        string           `json:"query"`
	MaxPrice     *decimal.Decimal `json:"max_price,omitempty"`
	MinRating    float64          `json:"min_rating,omitempty"`
	BuyerAddress string           `json:"buyer_address,omitempty"`
}

// PurchaseStatus 是单次调用购买的结果类别。
type PurchaseStatus string

const (
	PurchaseReady   PurchaseStatus = "ready"
	PurchaseNoMatch PurchaseStatus = "no_match"
)

// PurchaseResult 汇总选中的商品、订单预览与可选的支付模板。
type PurchaseResult struct {
	Status       PurchaseStatus           `json:"status"`
	Item         *catalog.Item            `json:"item,omitempty"`
	Rationale    string                   `json:"rationale,omitempty"`
	Order        *order.Order             `json:"order,omitempty"`
	Evaluation   *policy.Evaluation       `json:"evaluation,omitempty"`
	Template     *ledger.TransferTemplate `json:"template"`
	Alternatives []catalog.Item           `json:"alternatives"`
	NextSteps    []string                 `json:"next_steps"`
	Hint         string                   `json:"hint,omitempty"`
}

// Purchase 检索、筛选并为第一个符合条件且有货的商品创建数量为 1 的预览。
// 目录的排序即为相关性排序，这里不再重排。买家地址合法时附带支付模板，
// 地址非法或模板构建失败都不影响预览本身。
func (a *Agent) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "query 不能为空")
	}
	if req.MaxPrice != nil && req.MaxPrice.IsNegative() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "max_price 不能为负数")
	}

	candidates, err := a.catalog.Search(ctx, query, purchaseCandidates)
	if err != nil {
		return nil, err
	}
	filtered := filterCandidates(candidates, req.MaxPrice, req.MinRating)
	if len(filtered) == 0 {
		metrics.ObservePurchase(string(PurchaseNoMatch))
		return &PurchaseResult{
			Status:       PurchaseNoMatch,
			Alternatives: []catalog.Item{},
			NextSteps:    []string{},
			Hint:         noMatchHint(query, candidates),
		}, nil
	}

	chosen := filtered[0]
	created, err := a.orders.CreatePreview(ctx, order.PreviewRequest{ItemRef: chosen.Ref, Quantity: 1})
	if err != nil {
		return nil, err
	}
	evaluation := a.orders.Limits().Evaluate(created.TotalBase)
	result := &PurchaseResult{
		Status:       PurchaseReady,
		Item:         &chosen,
		Rationale:    rationale(chosen, query),
		Order:        created,
		Evaluation:   &evaluation,
		Alternatives: alternatives(filtered[1:]),
	}

	if !req.Session.Empty() {
		if _, err := a.recordPreview(ctx, req.Session, created); err != nil {
			return nil, err
		}
	}

	buyer := strings.TrimSpace(req.BuyerAddress)
	switch {
	case buyer == "":
	case !a.isValidAddress(buyer):
		logger.L().Warn("买家地址无效，跳过支付模板",
			slog.String("order_id", created.ID),
			slog.String("buyer_address", buyer))
	case a.requirePayee() != nil:
		logger.L().Warn("未配置账本或商户地址，跳过支付模板", slog.String("order_id", created.ID))
	default:
		payment, err := a.issueTemplate(ctx, req.Session, created.ID, buyer)
		if err != nil {
			logger.L().Warn("构建支付模板失败",
				slog.String("order_id", created.ID),
				slog.Any("error", err))
			break
		}
		result.Order = payment.Order
		result.Template = &payment.Template
	}

	result.NextSteps = nextSteps(result)
	metrics.ObservePurchase(string(PurchaseReady))
	return result, nil
}

func filterCandidates(items []catalog.Item, maxPrice *decimal.Decimal, minRating float64) []catalog.Item {
	filtered := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if !item.InStock {
			continue
		}
		if maxPrice != nil && item.UnitPrice.GreaterThan(*maxPrice) {
			continue
		}
		if item.Rating < minRating {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

// noMatchHint 以最便宜的有货候选作为放宽条件的提示，缺货商品不计入。
func noMatchHint(query string, candidates []catalog.Item) string {
	var cheapest *catalog.Item
	for i := range candidates {
		item := &candidates[i]
		if !item.InStock {
			continue
		}
		if cheapest == nil || item.UnitPrice.LessThan(cheapest.UnitPrice) {
			cheapest = item
		}
	}
	if cheapest == nil {
		return fmt.Sprintf("No products matched %q. Try different keywords.", query)
	}
	return fmt.Sprintf("No products matched the filters. The cheapest match for %q is %s at %s; consider relaxing the price or rating limits.",
		query, cheapest.Title, policy.FormatAmount(cheapest.UnitPrice))
}

func rationale(item catalog.Item, query string) string {
	return fmt.Sprintf("Selected %s as the top match for %q: %s, rated %.1f from %d reviews.",
		item.Title, query, policy.FormatAmount(item.UnitPrice), item.Rating, item.ReviewCount)
}

func alternatives(items []catalog.Item) []catalog.Item {
	if len(items) > maxAlternatives {
		items = items[:maxAlternatives]
	}
	return append([]catalog.Item{}, items...)
}

func nextSteps(result *PurchaseResult) []string {
	total := policy.FormatAmount(result.Order.TotalBase)
	confirmStep := fmt.Sprintf("Show the preview to the user and ask them to confirm the %s purchase before the quote expires at %s.",
		total, result.Order.Quote.ExpiresAt.UTC().Format("15:04 MST"))
	if result.Evaluation != nil && result.Evaluation.RequiresAmountAck {
		confirmStep = fmt.Sprintf("Ask the user to confirm by restating the total, for example \"I confirm the %s purchase\".", total)
	}
	if result.Template != nil {
		return []string{
			confirmStep,
			"Have the buyer sign and broadcast the payment template from their wallet.",
			"Place the order with the transaction hash as the payment reference.",
		}
	}
	return []string{
		confirmStep,
		"Link a valid buyer wallet to receive a payment template.",
		"Place the order once payment has been arranged.",
	}
}
