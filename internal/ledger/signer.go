package ledger

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ShopMCP-Chain/internal/errors"
)

// SignedTransfer 是签名后的原始交易，仍需由持有者自行广播。
type SignedTransfer struct {
	Hash  string `json:"hash"`
	RawTx string `json:"raw_tx"`
	From  string `json:"from"`
}

// LocalSigner 使用本地私钥为转账模板签名。
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner 从十六进制私钥创建签名器。
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("未提供签名私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// LocalSignerFromEnv 从环境变量读取私钥，变量未设置时返回 nil。
func LocalSignerFromEnv(name string) (*LocalSigner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return NewLocalSigner(value)
}

// Address 返回签名器对应的账户地址。
func (s *LocalSigner) Address() string { return s.address.Hex() }

// Sign 为模板中的未签名交易签名。模板的付款地址必须与签名器一致。
func (s *LocalSigner) Sign(tmpl TransferTemplate) (SignedTransfer, error) {
	if !strings.EqualFold(common.HexToAddress(tmpl.From).Hex(), s.address.Hex()) {
		return SignedTransfer{}, xerrors.New(CodeSignerMismatch,
			fmt.Sprintf("模板付款地址 %s 与签名器 %s 不一致", tmpl.From, s.address.Hex()))
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(tmpl.UnsignedTx, "0x"))
	if err != nil {
		return SignedTransfer{}, fmt.Errorf("解码未签名交易失败: %w", err)
	}
	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return SignedTransfer{}, fmt.Errorf("解析未签名交易失败: %w", err)
	}
	chainID, ok := new(big.Int).SetString(tmpl.ChainID, 10)
	if !ok {
		return SignedTransfer{}, fmt.Errorf("链 ID 无效: %q", tmpl.ChainID)
	}

	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return SignedTransfer{}, fmt.Errorf("签名交易失败: %w", err)
	}
	encoded, err := signed.MarshalBinary()
	if err != nil {
		return SignedTransfer{}, fmt.Errorf("序列化签名交易失败: %w", err)
	}
	return SignedTransfer{
		Hash:  signed.Hash().Hex(),
		RawTx: "0x" + hex.EncodeToString(encoded),
		From:  s.address.Hex(),
	}, nil
}
