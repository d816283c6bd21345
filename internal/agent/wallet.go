package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/ledger"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/logger"
)

// PaymentRequest 请求为订单构建支付模板。From 为空时使用会话已关联的钱包。
type PaymentRequest struct {
	OrderID string `json:"order_id"`
	From    string `json:"from,omitempty"`
}

// PaymentResult 是支付模板及更新后的订单。
type PaymentResult struct {
	Order    *order.Order            `json:"order"`
	Template ledger.TransferTemplate `json:"template"`
}

// PaymentTemplate 为预览或待支付的订单构建未签名转账，收款方为商户地址，
// 备注为订单号。成功后订单进入 pending_payment。
func (a *Agent) PaymentTemplate(ctx context.Context, key session.Key, req PaymentRequest) (*PaymentResult, error) {
	if err := a.requirePayee(); err != nil {
		return nil, err
	}
	from := strings.TrimSpace(req.From)
	if from == "" && !key.Empty() {
		s, err := a.sessions.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		from = s.WalletAddress
	}
	if from == "" {
		return nil, xerrors.New(CodeWalletNotLinked, "需要付款钱包地址，请先关联钱包或传入 from")
	}
	orderID, err := a.resolveOrderID(ctx, key, req.OrderID)
	if err != nil {
		return nil, err
	}
	return a.issueTemplate(ctx, key, orderID, from)
}

// resolveOrderID 在未指定订单时取会话当前预览。
func (a *Agent) resolveOrderID(ctx context.Context, key session.Key, orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID != "" || key.Empty() {
		return orderID, nil
	}
	s, err := a.sessions.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if s.ActivePreview == nil {
		return "", xerrors.New(CodeNoActivePreview, "")
	}
	return s.ActivePreview.OrderID, nil
}

func (a *Agent) issueTemplate(ctx context.Context, key session.Key, orderID, from string) (*PaymentResult, error) {
	current, err := a.OrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Placed() {
		return nil, xerrors.New(CodeOrderPlaced, "", xerrors.WithMetadata("order_id", current.ID))
	}
	if current.Quote.Expired(a.clock.Now()) {
		return nil, xerrors.New(order.CodeQuoteExpired, "", xerrors.WithMetadata("order_id", current.ID))
	}

	tmpl, err := a.ledger.BuildTransferTemplate(ctx, ledger.TransferRequest{
		From:   from,
		To:     a.merchant,
		Amount: current.TotalToken,
		Memo:   current.ID,
	})
	if err != nil {
		return nil, err
	}
	updated, err := a.orders.MarkAwaitingPayment(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if !key.Empty() {
		_, err := a.sessions.Update(ctx, key, func(s *session.Session, _ time.Time) error {
			if s.ActivePreview != nil && s.ActivePreview.OrderID == current.ID {
				s.MarkAwaitingPayment()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Audit().Info("支付模板已签发",
		slog.String("order_id", current.ID),
		slog.String("chain", tmpl.Chain),
		slog.String("from", tmpl.From),
		slog.String("to", tmpl.To),
		slog.String("amount", tmpl.Amount.String()))
	return &PaymentResult{Order: updated, Template: tmpl}, nil
}

// LinkWallet 校验并关联钱包地址。配置了账本时顺带查询余额，查询失败不影响关联。
func (a *Agent) LinkWallet(ctx context.Context, key session.Key, address string) (*session.Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if !a.isValidAddress(address) {
		return nil, xerrors.New(ledger.CodeInvalidAddress, fmt.Sprintf("钱包地址无效: %q", address))
	}

	var balance *decimal.Decimal
	if a.ledger != nil {
		value, err := a.ledger.Balance(ctx, address)
		if err != nil {
			logger.L().Warn("查询钱包余额失败",
				slog.String("session_id", key.ID()),
				slog.String("address", address),
				slog.Any("error", err))
		} else {
			balance = &value
		}
	}

	s, err := a.sessions.LinkWallet(ctx, key, address, balance)
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("钱包已关联",
		slog.String("session_id", s.ID),
		slog.String("address", address),
		slog.Bool("balance_known", balance != nil))
	return s, nil
}

func (a *Agent) isValidAddress(address string) bool {
	if a.ledger != nil {
		return a.ledger.IsValidAddress(address)
	}
	return ledger.IsValidAddress(address)
}

// WalletStatus 描述会话的钱包关联情况。
type WalletStatus struct {
	Linked  bool             `json:"linked"`
	Address string           `json:"address,omitempty"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	Phase   session.Phase    `json:"phase"`
	Signer  string           `json:"signer,omitempty"`
}

// WalletStatus 返回会话的钱包状态。
func (a *Agent) WalletStatus(ctx context.Context, key session.Key) (*WalletStatus, error) {
	s, err := a.sessions.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	status := &WalletStatus{
		Linked:  s.WalletLinked,
		Address: s.WalletAddress,
		Balance: s.WalletBalance,
		Phase:   s.Phase,
	}
	if a.signer != nil {
		status.Signer = a.signer.Address()
	}
	return status, nil
}

// WalletBalance 从账本刷新已关联钱包的余额。
func (a *Agent) WalletBalance(ctx context.Context, key session.Key) (decimal.Decimal, error) {
	if err := a.requireLedger(); err != nil {
		return decimal.Zero, err
	}
	s, err := a.sessions.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !s.WalletLinked {
		return decimal.Zero, xerrors.New(CodeWalletNotLinked, "")
	}
	balance, err := a.ledger.Balance(ctx, s.WalletAddress)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := a.sessions.RefreshBalance(ctx, key, balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// SignResult 是本地签名的结果，交易不会被广播。
type SignResult struct {
	Order    *order.Order            `json:"order"`
	Template ledger.TransferTemplate `json:"template"`
	Signed   ledger.SignedTransfer   `json:"signed"`
}

// WalletSign 以配置的签名器为付款方构建并签名订单的支付交易。
func (a *Agent) WalletSign(ctx context.Context, key session.Key, orderID string) (*SignResult, error) {
	if err := a.requirePayee(); err != nil {
		return nil, err
	}
	if a.signer == nil {
		return nil, xerrors.New(CodeSignerMissing, "")
	}
	orderID, err := a.resolveOrderID(ctx, key, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := a.issueTemplate(ctx, key, orderID, a.signer.Address())
	if err != nil {
		return nil, err
	}
	signed, err := a.signer.Sign(payment.Template)
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("支付交易已签名",
		slog.String("order_id", payment.Order.ID),
		slog.String("from", signed.From),
		slog.String("tx_hash", signed.Hash))
	return &SignResult{Order: payment.Order, Template: payment.Template, Signed: signed}, nil
}

func (a *Agent) requireLedger() error {
	if a.ledger == nil {
		return xerrors.New(CodeLedgerMissing, "")
	}
	return nil
}

// requirePayee 检查构建支付模板所需的账本与商户地址。
func (a *Agent) requirePayee() error {
	if err := a.requireLedger(); err != nil {
		return err
	}
	if a.merchant == "" {
		return xerrors.New(CodeMerchantMissing, "")
	}
	return nil
}
