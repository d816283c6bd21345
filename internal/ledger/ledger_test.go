package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/config"
	xerrors "ShopMCP-Chain/internal/errors"
)

const (
	tokenAddress    = "0x6c3ea9036406852006290770BEdFcAbA0e23A0e8"
	merchantAddress = "0x1111111111111111111111111111111111111111"
	buyerAddress    = "0x2222222222222222222222222222222222222222"
)

type stubBackend struct {
	chainID     *big.Int
	nonce       uint64
	tip         *big.Int
	baseFee     *big.Int
	estimateErr error
	balance     *big.Int
	receipts    map[common.Hash]*coretypes.Receipt
	blockTime   uint64
	lastCall    gethcore.CallMsg
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) { return s.chainID, nil }

func (s *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return s.nonce, nil
}

func (s *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return s.tip, nil }

func (s *stubBackend) HeaderByNumber(_ context.Context, number *big.Int) (*coretypes.Header, error) {
	h := &coretypes.Header{BaseFee: s.baseFee, Time: s.blockTime}
	if number != nil {
		h.Number = number
	}
	return h, nil
}

func (s *stubBackend) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	s.lastCall = msg
	if s.estimateErr != nil {
		return 0, s.estimateErr
	}
	return 52_000, nil
}

func (s *stubBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	s.lastCall = msg
	return parsedERC20.Methods["balanceOf"].Outputs.Pack(s.balance)
}

func (s *stubBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if r, ok := s.receipts[hash]; ok {
		return r, nil
	}
	return nil, gethcore.NotFound
}

func newStub() *stubBackend {
	return &stubBackend{
		chainID:  big.NewInt(11155111),
		nonce:    7,
		tip:      big.NewInt(1_000_000_000),
		baseFee:  big.NewInt(20_000_000_000),
		balance:  big.NewInt(125_500_000),
		receipts: map[common.Hash]*coretypes.Receipt{},
	}
}

func intPtr(v int) *int { return &v }

func newTestLedger(t *testing.T, backend Backend) *EVMLedger {
	t.Helper()
	l, err := NewEVMLedger(backend, EVMConfig{Name: "sepolia", TokenAddress: tokenAddress, TokenDecimals: intPtr(6)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestBuildTransferTemplate(t *testing.T) {
	stub := newStub()
	l := newTestLedger(t, stub)

	tmpl, err := l.BuildTransferTemplate(context.Background(), TransferRequest{
		From:   buyerAddress,
		To:     merchantAddress,
		Amount: decimal.RequireFromString("45.00"),
		Memo:   "ord_1",
	})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	if tmpl.AmountUnits != "45000000" {
		t.Fatalf("unexpected units: %s", tmpl.AmountUnits)
	}
	if tmpl.ChainID != "11155111" || tmpl.Nonce != 7 || tmpl.GasLimit != 52_000 {
		t.Fatalf("unexpected template: %+v", tmpl)
	}
	if tmpl.MaxFeePerGas != "41000000000" {
		t.Fatalf("unexpected fee cap: %s", tmpl.MaxFeePerGas)
	}

	data, err := hex.DecodeString(strings.TrimPrefix(tmpl.Data, "0x"))
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !bytes.Equal(data[:4], parsedERC20.Methods["transfer"].ID) {
		t.Fatal("expected transfer selector")
	}
	if !bytes.HasSuffix(data, []byte("ord_1")) {
		t.Fatal("expected memo suffix")
	}
	if stub.lastCall.To == nil || *stub.lastCall.To != common.HexToAddress(tokenAddress) {
		t.Fatal("expected estimate against token contract")
	}

	raw, _ := hex.DecodeString(strings.TrimPrefix(tmpl.UnsignedTx, "0x"))
	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode tx: %v", err)
	}
	if tx.Type() != coretypes.DynamicFeeTxType || tx.Nonce() != 7 {
		t.Fatalf("unexpected tx: type=%d nonce=%d", tx.Type(), tx.Nonce())
	}
}

func TestBuildTransferTemplateFallsBackOnEstimateFailure(t *testing.T) {
	stub := newStub()
	stub.estimateErr = errors.New("execution reverted")
	l := newTestLedger(t, stub)

	tmpl, err := l.BuildTransferTemplate(context.Background(), TransferRequest{
		From: buyerAddress, To: merchantAddress, Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	if tmpl.GasLimit != DefaultTransferGas {
		t.Fatalf("expected default gas, got %d", tmpl.GasLimit)
	}
}

func TestBuildTransferTemplateRejectsBadInput(t *testing.T) {
	l := newTestLedger(t, newStub())
	cases := []struct {
		name string
		req  TransferRequest
		code xerrors.Code
	}{
		{"bad from", TransferRequest{From: "0xabc", To: merchantAddress, Amount: decimal.NewFromInt(1)}, CodeInvalidAddress},
		{"zero", TransferRequest{From: buyerAddress, To: merchantAddress, Amount: decimal.Zero}, CodeInvalidAmount},
		{"too precise", TransferRequest{From: buyerAddress, To: merchantAddress, Amount: decimal.RequireFromString("1.0000001")}, CodeInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.BuildTransferTemplate(context.Background(), tc.req)
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	stub := newStub()
	stub.blockTime = 1_700_000_000
	okHash := common.HexToHash("0x01")
	failedHash := common.HexToHash("0x02")
	stub.receipts[okHash] = &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}
	stub.receipts[failedHash] = &coretypes.Receipt{Status: coretypes.ReceiptStatusFailed, BlockNumber: big.NewInt(101)}
	l := newTestLedger(t, stub)
	ctx := context.Background()

	settled, err := l.Verify(ctx, okHash.Hex())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !settled.Found || !settled.Settled || settled.Timestamp.Unix() != 1_700_000_000 || settled.BlockNumber != 100 {
		t.Fatalf("unexpected settlement: %+v", settled)
	}

	failed, err := l.Verify(ctx, failedHash.Hex())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !failed.Found || failed.Settled {
		t.Fatalf("expected found but unsettled: %+v", failed)
	}

	missing, err := l.Verify(ctx, common.HexToHash("0x03").Hex())
	if err != nil || missing.Found {
		t.Fatalf("expected not found, got %+v %v", missing, err)
	}

	demo, err := l.Verify(ctx, "demo_abc")
	if err != nil || demo.Found {
		t.Fatalf("expected demo reference to be unknown, got %+v %v", demo, err)
	}
}

func TestBalance(t *testing.T) {
	l := newTestLedger(t, newStub())
	balance, err := l.Balance(context.Background(), buyerAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("unexpected balance: %s", balance)
	}
	if _, err := l.Balance(context.Background(), "nope"); xerrors.CodeOf(err) != CodeInvalidAddress {
		t.Fatalf("expected invalid address, got %v", err)
	}
}

func TestZeroDecimalToken(t *testing.T) {
	stub := newStub()
	stub.balance = big.NewInt(125)
	l, err := NewEVMLedger(stub, EVMConfig{Name: "points", TokenAddress: tokenAddress, TokenDecimals: intPtr(0)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ctx := context.Background()

	tmpl, err := l.BuildTransferTemplate(ctx, TransferRequest{From: buyerAddress, To: merchantAddress, Amount: decimal.NewFromInt(45)})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	if tmpl.AmountUnits != "45" {
		t.Fatalf("whole tokens must map one to one: %s", tmpl.AmountUnits)
	}
	_, err = l.BuildTransferTemplate(ctx, TransferRequest{From: buyerAddress, To: merchantAddress, Amount: decimal.RequireFromString("45.5")})
	if xerrors.CodeOf(err) != CodeInvalidAmount {
		t.Fatalf("fractional amount must be rejected, got %v", err)
	}
	balance, err := l.Balance(ctx, buyerAddress)
	if err != nil || !balance.Equal(decimal.NewFromInt(125)) {
		t.Fatalf("unexpected balance: %s %v", balance, err)
	}

	if _, err := NewEVMLedger(stub, EVMConfig{TokenAddress: tokenAddress, TokenDecimals: intPtr(-1)}); err == nil {
		t.Fatal("expected negative decimals to fail")
	}
	def, err := NewEVMLedger(stub, EVMConfig{TokenAddress: tokenAddress})
	if err != nil || def.decimals != defaultDecimals {
		t.Fatalf("missing decimals must default: %v %v", def, err)
	}
}

func TestLocalSignerSignsTemplate(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewLocalSigner(hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	l := newTestLedger(t, newStub())
	tmpl, err := l.BuildTransferTemplate(context.Background(), TransferRequest{
		From: signer.Address(), To: merchantAddress, Amount: decimal.NewFromInt(5), Memo: "ord_9",
	})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}

	signed, err := signer.Sign(tmpl)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, _ := hex.DecodeString(strings.TrimPrefix(signed.RawTx, "0x"))
	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(big.NewInt(11155111)), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender.Hex() != signer.Address() || tx.Hash().Hex() != signed.Hash {
		t.Fatalf("unexpected signed tx: sender=%s hash=%s", sender.Hex(), signed.Hash)
	}

	tmpl.From = buyerAddress
	if _, err := signer.Sign(tmpl); xerrors.CodeOf(err) != CodeSignerMismatch {
		t.Fatalf("expected signer mismatch, got %v", err)
	}
}

func TestRegistryLoadsChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  sepolia:
    chain_id: 11155111
    rpc_url: http://sepolia.invalid
    token_address: "` + tokenAddress + `"
    token_decimals: 6
  base:
    type: evm
    rpc_url: http://base.invalid
    token_address: "` + tokenAddress + `"
    token_decimals: 0
  arbitrum:
    rpc_url: http://arbitrum.invalid
    token_address: "` + tokenAddress + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	var dialed []string
	dial := func(_ context.Context, rpcURL string, cfg EVMConfig) (*EVMLedger, error) {
		dialed = append(dialed, rpcURL)
		return NewEVMLedger(newStub(), cfg)
	}

	reg, err := NewRegistry(context.Background(), config.LedgerConfig{ChainConfig: path, DefaultChain: "sepolia"}, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 3 || got[0] != "arbitrum" || got[1] != "base" || got[2] != "sepolia" {
		t.Fatalf("unexpected chains: %v", got)
	}
	for name, want := range map[string]int32{"sepolia": 6, "base": 0, "arbitrum": defaultDecimals} {
		l, ok := reg.Ledger(name)
		if !ok || l.decimals != want {
			t.Fatalf("chain %s: expected %d decimals, got %+v", name, want, l)
		}
	}
	def, err := reg.Default()
	if err != nil || def.Name() != "sepolia" {
		t.Fatalf("unexpected default: %v %v", def, err)
	}
	if len(dialed) != 3 {
		t.Fatalf("expected three dials, got %v", dialed)
	}

	if _, err := NewRegistry(context.Background(), config.LedgerConfig{ChainConfig: path, DefaultChain: "mainnet"}, dial); err == nil {
		t.Fatal("expected unknown default chain to fail")
	}
}
