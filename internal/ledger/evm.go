package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/pkg/logger"
)

const (
	erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

	// DefaultTransferGas 在估算失败时使用，例如付款方余额尚不足以模拟转账。
	DefaultTransferGas uint64 = 90_000
	defaultDecimals           = 6
)

var (
	parsedERC20 = mustParseABI(erc20ABI)
	txHashRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析 ERC-20 ABI 失败: %v", err))
	}
	return parsed
}

// Backend 是 EVM 账本所需的最小链访问能力，*ethclient.Client 满足该接口。
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// EVMConfig 描述一条 EVM 链上的稳定币。TokenDecimals 为空时取 6。
type EVMConfig struct {
	Name          string
	ChainID       int64
	TokenAddress  string
	TokenDecimals *int
}

// EVMLedger 基于 ERC-20 稳定币实现 Ledger。
type EVMLedger struct {
	name     string
	backend  Backend
	token    common.Address
	decimals int32
	closer   func()

	mu      sync.Mutex
	chainID *big.Int
}

// NewEVMLedger 使用给定后端创建账本。
func NewEVMLedger(backend Backend, cfg EVMConfig) (*EVMLedger, error) {
	if backend == nil {
		return nil, errors.New("未提供链访问后端")
	}
	if !IsValidAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("代币合约地址无效: %q", cfg.TokenAddress)
	}
	decimals := defaultDecimals
	if cfg.TokenDecimals != nil {
		decimals = *cfg.TokenDecimals
	}
	if decimals < 0 {
		return nil, fmt.Errorf("代币精度不能为负数: %d", decimals)
	}
	l := &EVMLedger{
		name:     cfg.Name,
		backend:  backend,
		token:    common.HexToAddress(cfg.TokenAddress),
		decimals: int32(decimals),
	}
	if cfg.ChainID > 0 {
		l.chainID = big.NewInt(cfg.ChainID)
	}
	return l, nil
}

// DialEVM 连接 RPC 节点并创建账本。
func DialEVM(ctx context.Context, rpcURL string, cfg EVMConfig) (*EVMLedger, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链节点失败: %w", err)
	}
	l, err := NewEVMLedger(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.closer = client.Close
	return l, nil
}

// Name 返回链名称。
func (l *EVMLedger) Name() string { return l.name }

// Close 释放底层连接。
func (l *EVMLedger) Close() {
	if l != nil && l.closer != nil {
		l.closer()
		l.closer = nil
	}
}

// IsValidAddress 实现 Ledger。
func (l *EVMLedger) IsValidAddress(address string) bool {
	return IsValidAddress(address)
}

// BuildTransferTemplate 构建 EIP-1559 的 ERC-20 transfer 未签名交易。
func (l *EVMLedger) BuildTransferTemplate(ctx context.Context, req TransferRequest) (TransferTemplate, error) {
	if !IsValidAddress(req.From) {
		return TransferTemplate{}, xerrors.New(CodeInvalidAddress, fmt.Sprintf("付款地址无效: %q", req.From))
	}
	if !IsValidAddress(req.To) {
		return TransferTemplate{}, xerrors.New(CodeInvalidAddress, fmt.Sprintf("收款地址无效: %q", req.To))
	}
	units, err := l.toUnits(req.Amount)
	if err != nil {
		return TransferTemplate{}, err
	}

	from := common.HexToAddress(req.From)
	to := common.HexToAddress(req.To)
	data, err := parsedERC20.Pack("transfer", to, units)
	if err != nil {
		return TransferTemplate{}, fmt.Errorf("编码 transfer 调用失败: %w", err)
	}
	if memo := strings.TrimSpace(req.Memo); memo != "" {
		data = append(data, []byte(memo)...)
	}

	chainID, err := l.resolveChainID(ctx)
	if err != nil {
		return TransferTemplate{}, err
	}
	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return TransferTemplate{}, xerrors.Wrap(CodeUnavailable, err, "查询 nonce 失败")
	}
	tip, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return TransferTemplate{}, xerrors.Wrap(CodeUnavailable, err, "查询小费建议失败")
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return TransferTemplate{}, xerrors.Wrap(CodeUnavailable, err, "查询最新区块失败")
	}
	baseFee := big.NewInt(0)
	if head != nil && head.BaseFee != nil {
		baseFee = head.BaseFee
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	token := l.token
	gas, err := l.backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &token, Data: data})
	if err != nil {
		logger.L().Warn("估算 gas 失败，使用默认值",
			slog.String("chain", l.name),
			slog.Uint64("gas", DefaultTransferGas),
			slog.Any("error", err))
		gas = DefaultTransferGas
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &token,
		Value:     big.NewInt(0),
		Data:      data,
	})
	raw, err := tx.MarshalBinary()
	if err != nil {
		return TransferTemplate{}, fmt.Errorf("序列化交易失败: %w", err)
	}

	return TransferTemplate{
		Chain:                l.name,
		ChainID:              chainID.String(),
		From:                 from.Hex(),
		To:                   to.Hex(),
		Token:                token.Hex(),
		Amount:               req.Amount,
		AmountUnits:          units.String(),
		Memo:                 strings.TrimSpace(req.Memo),
		Nonce:                nonce,
		GasLimit:             gas,
		MaxFeePerGas:         feeCap.String(),
		MaxPriorityFeePerGas: tip.String(),
		Data:                 "0x" + hex.EncodeToString(data),
		UnsignedTx:           "0x" + hex.EncodeToString(raw),
	}, nil
}

// Verify 以交易哈希为结算引用查询回执。非哈希引用（如演示引用）视为未找到。
func (l *EVMLedger) Verify(ctx context.Context, reference string) (Settlement, error) {
	reference = strings.TrimSpace(reference)
	result := Settlement{Reference: reference}
	if !txHashRe.MatchString(reference) {
		return result, nil
	}

	receipt, err := l.backend.TransactionReceipt(ctx, common.HexToHash(reference))
	if errors.Is(err, gethcore.NotFound) {
		return result, nil
	}
	if err != nil {
		return Settlement{}, xerrors.Wrap(CodeUnavailable, err, "查询交易回执失败")
	}
	result.Found = true
	result.Settled = receipt.Status == coretypes.ReceiptStatusSuccessful
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
		header, err := l.backend.HeaderByNumber(ctx, receipt.BlockNumber)
		if err != nil {
			return Settlement{}, xerrors.Wrap(CodeUnavailable, err, "查询区块头失败")
		}
		if header != nil {
			result.Timestamp = time.Unix(int64(header.Time), 0).UTC()
		}
	}
	return result, nil
}

// Balance 通过 balanceOf 查询代币余额，按代币精度换算。
func (l *EVMLedger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !IsValidAddress(address) {
		return decimal.Zero, xerrors.New(CodeInvalidAddress, fmt.Sprintf("地址无效: %q", address))
	}
	data, err := parsedERC20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	token := l.token
	out, err := l.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(CodeUnavailable, err, "查询余额失败")
	}
	values, err := parsedERC20.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return decimal.Zero, xerrors.Wrap(CodeUnavailable, err, "解析余额失败")
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, xerrors.New(CodeUnavailable, "余额返回类型异常")
	}
	return decimal.NewFromBigInt(raw, -l.decimals), nil
}

func (l *EVMLedger) toUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, xerrors.New(CodeInvalidAmount, fmt.Sprintf("转账金额必须为正数: %s", amount))
	}
	scaled := amount.Shift(l.decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, xerrors.New(CodeInvalidAmount, fmt.Sprintf("金额 %s 超出代币精度 %d", amount, l.decimals))
	}
	return scaled.BigInt(), nil
}

func (l *EVMLedger) resolveChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chainID != nil {
		return new(big.Int).Set(l.chainID), nil
	}
	id, err := l.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnavailable, err, "查询链 ID 失败")
	}
	l.chainID = new(big.Int).Set(id)
	return new(big.Int).Set(id), nil
}

var _ Ledger = (*EVMLedger)(nil)
