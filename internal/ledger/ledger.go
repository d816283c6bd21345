// Package ledger 封装稳定币账本协作方：构建转账模板、核验结算、查询余额与本地签名。
// 模板只会被构建或签名，从不广播。
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
)

const (
	CodeInvalidAddress xerrors.Code = "LEDGER_INVALID_ADDRESS"
	CodeInvalidAmount  xerrors.Code = "LEDGER_INVALID_AMOUNT"
	CodeUnavailable    xerrors.Code = "LEDGER_UNAVAILABLE"
	CodeSignerMismatch xerrors.Code = "LEDGER_SIGNER_MISMATCH"
)

func init() {
	xerrors.Register(CodeInvalidAddress, xerrors.Attributes{
		Message:  "invalid ledger address",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "invalid transfer amount",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "ledger unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Category:  xerrors.CodeExternalFailure,
	})
	xerrors.Register(CodeSignerMismatch, xerrors.Attributes{
		Message:  "signer does not own the sender address",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CodePrecondition,
	})
}

// TransferRequest 描述一笔待构建的代币转账。
type TransferRequest struct {
	From   string
	To     string
	Amount decimal.Decimal
	// Memo 通常是订单号，附加在调用数据末尾以便对账。
	Memo string
}

// TransferTemplate 是未签名的转账模板，调用方自行签名并广播。
type TransferTemplate struct {
	Chain                string          `json:"chain"`
	ChainID              string          `json:"chain_id"`
	From                 string          `json:"from"`
	To                   string          `json:"to"`
	Token                string          `json:"token"`
	Amount               decimal.Decimal `json:"amount"`
	AmountUnits          string          `json:"amount_units"`
	Memo                 string          `json:"memo,omitempty"`
	Nonce                uint64          `json:"nonce"`
	GasLimit             uint64          `json:"gas_limit"`
	MaxFeePerGas         string          `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string          `json:"max_priority_fee_per_gas"`
	Data                 string          `json:"data"`
	UnsignedTx           string          `json:"unsigned_tx"`
}

// Settlement 是按结算引用查询到的链上状态。
type Settlement struct {
	Reference   string    `json:"reference"`
	Found       bool      `json:"found"`
	Settled     bool      `json:"settled"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
}

// Ledger 是账本协作方的契约。
type Ledger interface {
	IsValidAddress(address string) bool
	BuildTransferTemplate(ctx context.Context, req TransferRequest) (TransferTemplate, error)
	Verify(ctx context.Context, reference string) (Settlement, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// IsValidAddress 判断字符串是否为合法的十六进制账户地址。
func IsValidAddress(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}
