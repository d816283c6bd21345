package tools

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/agent"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/session"
)

// 工具名称。
const (
	ToolSearchProducts  = "search_products"
	ToolGetQuote        = "get_quote"
	ToolSelectProduct   = "select_product"
	ToolPreviewOrder    = "preview_order"
	ToolConfirmOrder    = "confirm_order"
	ToolPlaceOrder      = "place_order"
	ToolOrderStatus     = "order_status"
	ToolPaymentTemplate = "payment_template"
	ToolVerifyPayment   = "verify_payment"
	ToolLinkWallet      = "link_wallet"
	ToolWalletStatus    = "wallet_status"
	ToolWalletBalance   = "wallet_balance"
	ToolWalletSign      = "wallet_sign"
	ToolPurchase        = "purchase"
)

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type quoteArgs struct {
	Amount   *decimal.Decimal `json:"amount"`
	ItemRef  string           `json:"item_ref"`
	Quantity *int             `json:"quantity"`
}

type selectArgs struct {
	ItemRef string `json:"item_ref"`
}

type previewArgs struct {
	ItemRef         string         `json:"item_ref"`
	Quantity        *int           `json:"quantity"`
	ShippingAddress *order.Address `json:"shipping_address"`
}

type orderArgs struct {
	OrderID string `json:"order_id"`
}

type paymentArgs struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
}

type verifyArgs struct {
	Reference string `json:"reference"`
}

type walletArgs struct {
	Address string `json:"address"`
}

type purchaseArgs struct {
	Query        string           `json:"query"`
	MaxPrice     *decimal.Decimal `json:"max_price"`
	MinRating    float64          `json:"min_rating"`
	BuyerAddress string           `json:"buyer_address"`
}

// ShopDefinitions 返回购物工具的定义。
func ShopDefinitions() []Definition {
	return []Definition{
		{Name: ToolSearchProducts, Description: "Search the catalog. Results keep the catalog's relevance order.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 50}
			},
			"required": ["query"]
		}`)},
		{Name: ToolGetQuote, Description: "Quote an amount or an item and quantity at the fixed 1:1 token peg. Quotes are valid for 30 minutes.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"amount": {"type": ["number", "string"]},
				"item_ref": {"type": "string"},
				"quantity": {"type": "integer"}
			}
		}`)},
		{Name: ToolSelectProduct, Description: "Select an item for the session. Any earlier preview and confirmation are discarded.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"item_ref": {"type": "string", "minLength": 1}},
			"required": ["item_ref"]
		}`)},
		{Name: ToolPreviewOrder, Description: "Create an order preview. Defaults to the selected item and quantity 1.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"item_ref": {"type": "string"},
				"quantity": {"type": "integer"},
				"shipping_address": {"type": "object"}
			}
		}`)},
		{Name: ToolConfirmOrder, Description: "Classify the user's reply to the active preview. High-value orders need the total restated.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"order_id": {"type": "string"},
				"utterance": {"type": "string", "minLength": 1}
			},
			"required": ["utterance"]
		}`)},
		{Name: ToolPlaceOrder, Description: "Place the active preview. Blocked placements return the validation errors.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"order_id": {"type": "string"},
				"payment_reference": {"type": "string"},
				"utterance": {"type": "string"}
			}
		}`)},
		{Name: ToolOrderStatus, Description: "Look up an order by id.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"order_id": {"type": "string", "minLength": 1}},
			"required": ["order_id"]
		}`)},
		{Name: ToolPaymentTemplate, Description: "Build an unsigned token transfer paying the merchant for an order.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"order_id": {"type": "string"},
				"from": {"type": "string"}
			}
		}`)},
		{Name: ToolVerifyPayment, Description: "Check whether a settlement reference has settled on the ledger.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"reference": {"type": "string", "minLength": 1}},
			"required": ["reference"]
		}`)},
		{Name: ToolLinkWallet, Description: "Link a wallet address to the session.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"address": {"type": "string", "minLength": 1}},
			"required": ["address"]
		}`)},
		{Name: ToolWalletStatus, Description: "Report whether a wallet is linked and its last known balance."},
		{Name: ToolWalletBalance, Description: "Refresh the linked wallet's token balance from the ledger."},
		{Name: ToolWalletSign, Description: "Sign the payment for an order with the service wallet. The transaction is not broadcast.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"order_id": {"type": "string"}}
		}`)},
		{Name: ToolPurchase, Description: "Search, filter and preview the first matching item in one call, with a payment template for a valid buyer address.", InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"max_price": {"type": ["number", "string"]},
				"min_rating": {"type": "number", "minimum": 0, "maximum": 5},
				"buyer_address": {"type": "string"}
			},
			"required": ["query"]
		}`)},
	}
}

// NewShopRegistry 创建注册了全部购物工具的注册表。
func NewShopRegistry(ag *agent.Agent) (*Registry, error) {
	handlers := map[string]Handler{
		ToolSearchProducts: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args searchArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			items, err := ag.Search(ctx, key, args.Query, args.MaxResults)
			if err != nil {
				return nil, err
			}
			return map[string]any{"items": items}, nil
		},
		ToolGetQuote: func(ctx context.Context, _ session.Key, raw json.RawMessage) (any, error) {
			var args quoteArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if args.Amount != nil {
				return ag.Quote(*args.Amount)
			}
			if args.ItemRef == "" {
				return nil, xerrors.New(CodeInvalidArguments, "需要 amount 或 item_ref")
			}
			return ag.QuoteItem(ctx, args.ItemRef, order.QuantityOrDefault(args.Quantity))
		},
		ToolSelectProduct: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args selectArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.SelectItem(ctx, key, args.ItemRef)
		},
		ToolPreviewOrder: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args previewArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.Preview(ctx, key, order.PreviewRequest{
				ItemRef:         args.ItemRef,
				Quantity:        order.QuantityOrDefault(args.Quantity),
				ShippingAddress: args.ShippingAddress,
			})
		},
		ToolConfirmOrder: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args agent.ConfirmRequest
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.Confirm(ctx, key, args)
		},
		ToolPlaceOrder: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args agent.PlaceRequest
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.Place(ctx, key, args)
		},
		ToolOrderStatus: func(ctx context.Context, _ session.Key, raw json.RawMessage) (any, error) {
			var args orderArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.OrderStatus(ctx, args.OrderID)
		},
		ToolPaymentTemplate: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args paymentArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.PaymentTemplate(ctx, key, agent.PaymentRequest{OrderID: args.OrderID, From: args.From})
		},
		ToolVerifyPayment: func(ctx context.Context, _ session.Key, raw json.RawMessage) (any, error) {
			var args verifyArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.Verify(ctx, args.Reference)
		},
		ToolLinkWallet: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args walletArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.LinkWallet(ctx, key, args.Address)
		},
		ToolWalletStatus: func(ctx context.Context, key session.Key, _ json.RawMessage) (any, error) {
			return ag.WalletStatus(ctx, key)
		},
		ToolWalletBalance: func(ctx context.Context, key session.Key, _ json.RawMessage) (any, error) {
			balance, err := ag.WalletBalance(ctx, key)
			if err != nil {
				return nil, err
			}
			return map[string]any{"balance": balance}, nil
		},
		ToolWalletSign: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args orderArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.WalletSign(ctx, key, args.OrderID)
		},
		ToolPurchase: func(ctx context.Context, key session.Key, raw json.RawMessage) (any, error) {
			var args purchaseArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return ag.Purchase(ctx, agent.PurchaseRequest{
				Session:      key,
				Query:        args.Query,
				MaxPrice:     args.MaxPrice,
				MinRating:    args.MinRating,
				BuyerAddress: args.BuyerAddress,
			})
		},
	}

	reg := NewRegistry()
	for _, def := range ShopDefinitions() {
		if err := reg.Register(def, handlers[def.Name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
