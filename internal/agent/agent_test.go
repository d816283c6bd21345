package agent

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/catalog"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/ledger"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/clock"
)

const (
	buyerAddress    = "0x1111111111111111111111111111111111111111"
	merchantAddress = "0x2222222222222222222222222222222222222222"
	testSignerKey   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

var (
	t0  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key = session.Key{Channel: "telegram", UserID: "u-1"}
)

func earbuds() []catalog.Item {
	return []catalog.Item{
		{Ref: "E80", Title: "Premium Earbuds", UnitPrice: decimal.NewFromInt(80), Rating: 4.7, ReviewCount: 900, InStock: true, Keywords: []string{"earbuds"}},
		{Ref: "E45", Title: "Everyday Earbuds", UnitPrice: decimal.NewFromInt(45), Rating: 4.4, ReviewCount: 310, InStock: true, Keywords: []string{"earbuds"}},
		{Ref: "E30", Title: "Budget Earbuds", UnitPrice: decimal.NewFromInt(30), Rating: 3.9, ReviewCount: 120, InStock: true, Keywords: []string{"earbuds"}},
		{Ref: "TV600", Title: "Living Room TV", UnitPrice: decimal.NewFromInt(600), Rating: 4.5, ReviewCount: 75, InStock: true, Keywords: []string{"television"}},
	}
}

type fakeLedger struct {
	requests    []ledger.TransferRequest
	balance     decimal.Decimal
	balanceErr  error
	settlements map[string]ledger.Settlement
}

func (f *fakeLedger) IsValidAddress(address string) bool { return ledger.IsValidAddress(address) }

func (f *fakeLedger) BuildTransferTemplate(_ context.Context, req ledger.TransferRequest) (ledger.TransferTemplate, error) {
	f.requests = append(f.requests, req)
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     uint64(len(f.requests)),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       ledger.DefaultTransferGas,
		To:        &token,
		Value:     big.NewInt(0),
		Data:      []byte(req.Memo),
	})
	raw, err := tx.MarshalBinary()
	if err != nil {
		return ledger.TransferTemplate{}, err
	}
	return ledger.TransferTemplate{
		Chain:      "devnet",
		ChainID:    "1337",
		From:       req.From,
		To:         req.To,
		Token:      token.Hex(),
		Amount:     req.Amount,
		Memo:       req.Memo,
		UnsignedTx: "0x" + hex.EncodeToString(raw),
	}, nil
}

func (f *fakeLedger) Verify(_ context.Context, reference string) (ledger.Settlement, error) {
	if s, ok := f.settlements[reference]; ok {
		return s, nil
	}
	return ledger.Settlement{Reference: reference}, nil
}

func (f *fakeLedger) Balance(context.Context, string) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

type fixture struct {
	agent  *Agent
	clock  *clock.Manual
	ledger *fakeLedger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newCatalogFixture(t, catalog.NewStaticCatalog(earbuds()), opts...)
}

func newCatalogFixture(t *testing.T, cat catalog.Catalog, opts ...Option) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	seq := 0
	lifecycle := order.NewLifecycle(order.NewMemoryStore(), cat,
		order.WithClock(clk),
		order.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("ord_%d", seq)
		}),
		order.WithDeliveryDays(func() int { return 3 }),
	)
	fl := &fakeLedger{balance: decimal.NewFromInt(1000)}
	base := []Option{WithClock(clk), WithLedger(fl), WithMerchantAddress(merchantAddress)}
	ag := New(cat, lifecycle, session.NewManager(nil, clk), append(base, opts...)...)
	return &fixture{agent: ag, clock: clk, ledger: fl}
}

func (f *fixture) preview(t *testing.T, ref string) *order.Order {
	t.Helper()
	res, err := f.agent.Preview(context.Background(), key, order.PreviewRequest{ItemRef: ref, Quantity: 1})
	if err != nil {
		t.Fatalf("preview %s: %v", ref, err)
	}
	return res.Order
}

func (f *fixture) confirm(t *testing.T, utterance string) *ConfirmResult {
	t.Helper()
	res, err := f.agent.Confirm(context.Background(), key, ConfirmRequest{Utterance: utterance})
	if err != nil {
		t.Fatalf("confirm %q: %v", utterance, err)
	}
	return res
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if strings.Contains(item, want) {
			return true
		}
	}
	return false
}

func TestPurchasePicksFirstFilteredCandidate(t *testing.T) {
	f := newFixture(t)
	maxPrice := decimal.NewFromInt(50)

	res, err := f.agent.Purchase(context.Background(), PurchaseRequest{Query: "earbuds", MaxPrice: &maxPrice, BuyerAddress: buyerAddress})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseReady || res.Item.Ref != "E45" {
		t.Fatalf("expected the 45-priced item, got %+v", res.Item)
	}
	if res.Template == nil {
		t.Fatal("expected a payment template for a valid buyer address")
	}
	if res.Template.Memo != res.Order.ID || res.Template.To != merchantAddress || !res.Template.Amount.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("unexpected template: %+v", res.Template)
	}
	if res.Order.Status != order.StatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", res.Order.Status)
	}
	if len(res.Alternatives) != 1 || res.Alternatives[0].Ref != "E30" {
		t.Fatalf("unexpected alternatives: %+v", res.Alternatives)
	}
	if !strings.Contains(res.Rationale, "Everyday Earbuds") || !strings.Contains(res.Rationale, "310 reviews") {
		t.Fatalf("unexpected rationale: %q", res.Rationale)
	}
	if !contains(res.NextSteps, "sign and broadcast") {
		t.Fatalf("next steps should mention signing: %v", res.NextSteps)
	}
}

func TestPurchaseWithMalformedAddressStillPreviews(t *testing.T) {
	f := newFixture(t)

	res, err := f.agent.Purchase(context.Background(), PurchaseRequest{Query: "earbuds", MinRating: 4.5, BuyerAddress: "not-an-address"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Item.Ref != "E80" || res.Template != nil {
		t.Fatalf("unexpected result: item=%+v template=%+v", res.Item, res.Template)
	}
	if res.Order.Status != order.StatusPreview || len(f.ledger.requests) != 0 {
		t.Fatalf("no template should have been requested: %+v", f.ledger.requests)
	}
	if !contains(res.NextSteps, "Link a valid buyer wallet") {
		t.Fatalf("unexpected next steps: %v", res.NextSteps)
	}
}

func TestPurchaseNoMatchHints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maxPrice := decimal.NewFromInt(10)

	res, err := f.agent.Purchase(ctx, PurchaseRequest{Query: "earbuds", MaxPrice: &maxPrice})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseNoMatch || !strings.Contains(res.Hint, "$30.00") {
		t.Fatalf("expected cheapest-candidate hint, got %+v", res)
	}

	res, err = f.agent.Purchase(ctx, PurchaseRequest{Query: "toaster"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseNoMatch || !strings.Contains(res.Hint, "Try different keywords") {
		t.Fatalf("expected keyword hint, got %+v", res)
	}
}

func TestPurchaseSkipsOutOfStockCandidates(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(t, catalog.NewStaticCatalog([]catalog.Item{
		{Ref: "A40", Title: "Sold Out Earbuds", UnitPrice: decimal.NewFromInt(40), Rating: 4.8, ReviewCount: 50, InStock: false, Keywords: []string{"earbuds"}},
		{Ref: "B45", Title: "Stocked Earbuds", UnitPrice: decimal.NewFromInt(45), Rating: 4.3, ReviewCount: 80, InStock: true, Keywords: []string{"earbuds"}},
	}))

	res, err := f.agent.Purchase(ctx, PurchaseRequest{Query: "earbuds"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseReady || res.Item.Ref != "B45" || res.Order.ItemRef != "B45" {
		t.Fatalf("expected the in-stock item, got %+v", res.Item)
	}
	if len(res.Alternatives) != 0 {
		t.Fatalf("out-of-stock items must not be offered: %+v", res.Alternatives)
	}

	maxPrice := decimal.NewFromInt(42)
	res, err = f.agent.Purchase(ctx, PurchaseRequest{Query: "earbuds", MaxPrice: &maxPrice})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseNoMatch || !strings.Contains(res.Hint, "Stocked Earbuds") {
		t.Fatalf("hint should name the cheapest in-stock item, got %+v", res)
	}
}

func TestPurchaseBundledCatalogOutOfStockIsNoMatch(t *testing.T) {
	f := newCatalogFixture(t, catalog.Fallback())

	res, err := f.agent.Purchase(context.Background(), PurchaseRequest{Query: "mug"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if res.Status != PurchaseNoMatch || !strings.Contains(res.Hint, "Try different keywords") {
		t.Fatalf("expected no match for an out-of-stock query, got %+v", res)
	}
}

func TestPurchaseRecordsSessionPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.agent.Purchase(ctx, PurchaseRequest{Session: key, Query: "earbuds"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	f.confirm(t, "yes")
	placed, err := f.agent.Place(ctx, key, PlaceRequest{PaymentReference: "0xabc"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !placed.Placed || placed.Order.ID != res.Order.ID {
		t.Fatalf("expected the purchase preview to be placed: %+v", placed)
	}
}

func TestHighValueConfirmationRequiresAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.preview(t, "TV600")

	bare := f.confirm(t, "yes")
	if bare.Confirmed || !bare.RequiresAmountAck || bare.Prompt != PromptRestateAmount {
		t.Fatalf("bare yes must not satisfy a high-value order: %+v", bare)
	}
	blocked, err := f.agent.Place(ctx, key, PlaceRequest{PaymentReference: "0xabc"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if blocked.Placed || blocked.Validation.CanPlace || !contains(blocked.Validation.Errors, order.ErrNotConfirmed) {
		t.Fatalf("expected blocked placement: %+v", blocked)
	}

	restated := f.confirm(t, "I confirm the $600.00 purchase")
	if !restated.Confirmed {
		t.Fatalf("restated total should satisfy confirmation: %+v", restated)
	}
	placed, err := f.agent.Place(ctx, key, PlaceRequest{PaymentReference: "0xabc"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !placed.Placed || placed.Order.Status != order.StatusConfirmed {
		t.Fatalf("expected placed order: %+v", placed)
	}
	if !contains(placed.Validation.Warnings, "High-value order") {
		t.Fatalf("expected high-value warning: %v", placed.Validation.Warnings)
	}
}

func TestPlaceWithUtteranceAppliesConfirmation(t *testing.T) {
	f := newFixture(t)
	f.preview(t, "E45")

	res, err := f.agent.Place(context.Background(), key, PlaceRequest{Utterance: "yes, go ahead"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !res.Placed || res.Classification == nil || !res.Classification.IsConfirmed() {
		t.Fatalf("expected utterance to confirm and place: %+v", res)
	}
	if !strings.HasPrefix(res.Order.PaymentReference, "demo_") {
		t.Fatalf("expected synthesized reference, got %q", res.Order.PaymentReference)
	}
	if res.Session.Phase != session.PhaseComplete || res.Session.LastOrderID != res.Order.ID {
		t.Fatalf("session should be complete: %+v", res.Session)
	}
}

func TestPlaceWithNegatedUtteranceDoesNotPlace(t *testing.T) {
	for _, utterance := range []string{"do not proceed", "don't place the order"} {
		t.Run(utterance, func(t *testing.T) {
			f := newFixture(t)
			f.preview(t, "E45")

			res, err := f.agent.Place(context.Background(), key, PlaceRequest{Utterance: utterance})
			if err != nil {
				t.Fatalf("place: %v", err)
			}
			if res.Placed || res.Classification == nil || !res.Classification.IsRejected() {
				t.Fatalf("negated reply must not place: %+v", res)
			}
			if res.Session.ConfirmationReceived {
				t.Fatalf("confirmation should stay false: %+v", res.Session)
			}
		})
	}
}

func TestPreviewExpiresDespiteConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.preview(t, "E45")

	f.clock.Advance(5 * time.Minute)
	if res := f.confirm(t, "yes"); !res.Confirmed {
		t.Fatalf("expected confirmation: %+v", res)
	}
	f.clock.Advance(26 * time.Minute)

	v, err := f.agent.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CanPlace || !contains(v.Errors, order.ErrPreviewExpired) {
		t.Fatalf("expected expiry error: %+v", v)
	}
	res, err := f.agent.Place(ctx, key, PlaceRequest{PaymentReference: "0xabc"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.Placed {
		t.Fatal("expired preview must not be placed")
	}
}

func TestPlaceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.preview(t, "E45")
	f.confirm(t, "yes")

	first, err := f.agent.Place(ctx, key, PlaceRequest{OrderID: created.ID, PaymentReference: "0xfeed"})
	if err != nil || !first.Placed {
		t.Fatalf("first place: %+v %v", first, err)
	}
	f.clock.Advance(time.Hour)
	second, err := f.agent.Place(ctx, key, PlaceRequest{OrderID: created.ID, PaymentReference: "0xother"})
	if err != nil || !second.Placed {
		t.Fatalf("second place: %+v %v", second, err)
	}
	if second.Order.PaymentReference != "0xfeed" || second.Order.Status != order.StatusConfirmed {
		t.Fatalf("replay must return the stored record: %+v", second.Order)
	}
	third, err := f.agent.Place(ctx, key, PlaceRequest{})
	if err != nil || third.Order.ID != created.ID || third.Order.PaymentReference != "0xfeed" {
		t.Fatalf("replay via session: %+v %v", third, err)
	}
}

func TestSelectItemInvalidatesConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.preview(t, "E45")
	f.confirm(t, "yes")

	s, err := f.agent.SelectItem(ctx, key, "E30")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if s.ConfirmationReceived || s.ActivePreview != nil || s.SelectedItem.Ref != "E30" {
		t.Fatalf("selection must clear confirmation and preview: %+v", s)
	}
	v, err := f.agent.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.CanPlace || !contains(v.Errors, order.ErrNoPreview) || !contains(v.Errors, order.ErrNotConfirmed) {
		t.Fatalf("unexpected validation: %+v", v)
	}

	res, err := f.agent.Preview(ctx, key, order.PreviewRequest{Quantity: 2})
	if err != nil {
		t.Fatalf("preview selected item: %v", err)
	}
	if res.Order.ItemRef != "E30" || !res.Order.TotalBase.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected preview of the selected item: %+v", res.Order)
	}
}

func TestConfirmRequiresActivePreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agent.Confirm(ctx, key, ConfirmRequest{Utterance: "yes"})
	if xerrors.CodeOf(err) != CodeNoActivePreview || !xerrors.IsCategory(err, xerrors.CodePrecondition) {
		t.Fatalf("expected no-preview precondition, got %v", err)
	}

	f.preview(t, "E45")
	_, err = f.agent.Confirm(ctx, key, ConfirmRequest{OrderID: "ord_other", Utterance: "yes"})
	if xerrors.CodeOf(err) != CodePreviewMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
	_, err = f.agent.Confirm(ctx, key, ConfirmRequest{Utterance: "  "})
	if !xerrors.IsCategory(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestUnclearRepliesDoNotConfirm(t *testing.T) {
	f := newFixture(t)
	f.preview(t, "E45")

	for _, utterance := range []string{"maybe", "what colour is it"} {
		res := f.confirm(t, utterance)
		if res.Confirmed || res.Prompt != PromptClarify || res.Session.ConfirmationReceived {
			t.Fatalf("%q must not confirm: %+v", utterance, res)
		}
	}
	if res := f.confirm(t, "no"); res.Prompt != PromptRejected || res.Session.Phase != session.PhasePreview {
		t.Fatalf("unexpected rejection handling: %+v", res)
	}
}

func TestValidationWarningsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.preview(t, "E45")
	f.confirm(t, "yes")

	v, err := f.agent.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.CanPlace || !contains(v.Warnings, order.WarnWalletNotLinked) {
		t.Fatalf("missing wallet should only warn: %+v", v)
	}

	f.ledger.balance = decimal.NewFromInt(10)
	if _, err := f.agent.LinkWallet(ctx, key, buyerAddress); err != nil {
		t.Fatalf("link wallet: %v", err)
	}
	v, err = f.agent.Validate(ctx, key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.CanPlace || !contains(v.Warnings, "Insufficient balance") {
		t.Fatalf("insufficient balance should only warn: %+v", v)
	}
}

func TestPaymentTemplateUsesLinkedWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.agent.LinkWallet(ctx, key, buyerAddress); err != nil {
		t.Fatalf("link wallet: %v", err)
	}
	created := f.preview(t, "E45")

	res, err := f.agent.PaymentTemplate(ctx, key, PaymentRequest{})
	if err != nil {
		t.Fatalf("payment template: %v", err)
	}
	if res.Template.From != buyerAddress || res.Template.Memo != created.ID {
		t.Fatalf("unexpected template: %+v", res.Template)
	}
	if res.Order.Status != order.StatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", res.Order.Status)
	}
	s, err := f.agent.Session(ctx, key)
	if err != nil || s.Phase != session.PhasePayment {
		t.Fatalf("expected payment phase: %+v %v", s, err)
	}

	f.confirm(t, "yes")
	placed, err := f.agent.Place(ctx, key, PlaceRequest{PaymentReference: "0xbeef"})
	if err != nil || !placed.Placed {
		t.Fatalf("place after template: %+v %v", placed, err)
	}
	_, err = f.agent.PaymentTemplate(ctx, key, PaymentRequest{OrderID: created.ID})
	if xerrors.CodeOf(err) != CodeOrderPlaced {
		t.Fatalf("expected already-placed error, got %v", err)
	}
}

func TestPaymentTemplateRejectsExpiredQuote(t *testing.T) {
	f := newFixture(t)
	created := f.preview(t, "E45")
	f.clock.Advance(31 * time.Minute)

	_, err := f.agent.PaymentTemplate(context.Background(), key, PaymentRequest{OrderID: created.ID, From: buyerAddress})
	if xerrors.CodeOf(err) != order.CodeQuoteExpired {
		t.Fatalf("expected quote expired, got %v", err)
	}
}

func TestWalletSignSignsTemplate(t *testing.T) {
	signer, err := ledger.NewLocalSigner(testSignerKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	f := newFixture(t, WithSigner(signer))
	created := f.preview(t, "E45")

	res, err := f.agent.WalletSign(context.Background(), key, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res.Signed.From != signer.Address() || res.Template.Memo != created.ID {
		t.Fatalf("unexpected signature: %+v", res)
	}
	if !strings.HasPrefix(res.Signed.RawTx, "0x") || res.Signed.Hash == "" {
		t.Fatalf("expected raw signed transaction: %+v", res.Signed)
	}
}

func TestWalletOperationsWithoutLedger(t *testing.T) {
	clk := clock.NewManual(t0)
	cat := catalog.NewStaticCatalog(earbuds())
	ag := New(cat, order.NewLifecycle(order.NewMemoryStore(), cat, order.WithClock(clk)), session.NewManager(nil, clk), WithClock(clk))
	ctx := context.Background()

	if _, err := ag.WalletBalance(ctx, key); !xerrors.IsCategory(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := ag.Verify(ctx, "0xabc"); !xerrors.IsCategory(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := ag.WalletSign(ctx, key, ""); !xerrors.IsCategory(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := ag.LinkWallet(ctx, key, "0x123"); !xerrors.IsCategory(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	s, err := ag.LinkWallet(ctx, key, buyerAddress)
	if err != nil || !s.WalletLinked || s.WalletBalance != nil {
		t.Fatalf("linking without a ledger should still succeed: %+v %v", s, err)
	}
	caps := ag.Capabilities()
	if caps.PaymentTemplates || caps.WalletSigning || caps.PhraseSetVersion == "" {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestWalletBalanceRefreshesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.agent.WalletBalance(ctx, key); xerrors.CodeOf(err) != CodeWalletNotLinked {
		t.Fatalf("expected wallet-not-linked, got %v", err)
	}
	if _, err := f.agent.LinkWallet(ctx, key, buyerAddress); err != nil {
		t.Fatalf("link: %v", err)
	}
	f.ledger.balance = decimal.RequireFromString("12.5")
	balance, err := f.agent.WalletBalance(ctx, key)
	if err != nil || !balance.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected balance: %s %v", balance, err)
	}
	status, err := f.agent.WalletStatus(ctx, key)
	if err != nil || !status.Linked || status.Balance == nil || !status.Balance.Equal(balance) {
		t.Fatalf("unexpected wallet status: %+v %v", status, err)
	}
}

func TestVerifyDelegatesToLedger(t *testing.T) {
	f := newFixture(t)
	f.ledger.settlements = map[string]ledger.Settlement{"0xfeed": {Reference: "0xfeed", Found: true, Settled: true}}

	got, err := f.agent.Verify(context.Background(), "0xfeed")
	if err != nil || !got.Found || !got.Settled {
		t.Fatalf("unexpected settlement: %+v %v", got, err)
	}
}

func TestQuoteItemRejectsBadQuantity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.agent.QuoteItem(context.Background(), "E45", 11); xerrors.CodeOf(err) != order.CodeInvalidQuantity {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	q, err := f.agent.QuoteItem(context.Background(), "E45", 2)
	if err != nil || !q.AmountToken.Equal(decimal.NewFromInt(90)) || !q.ExpiresAt.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("unexpected quote: %+v %v", q, err)
	}
}
