package agent

import (
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/quote"
)

// Capabilities 是对外公布的能力描述。
type Capabilities struct {
	Name             string   `json:"name"`
	Currency         string   `json:"currency"`
	PegRate          string   `json:"peg_rate"`
	QuoteTTLSeconds  int      `json:"quote_ttl_seconds"`
	MinQuantity      int      `json:"min_quantity"`
	MaxQuantity      int      `json:"max_quantity"`
	LargeOrderAbove  string   `json:"large_order_above"`
	HighValueAbove   string   `json:"high_value_above"`
	PhraseSetVersion string   `json:"phrase_set_version"`
	Chain            string   `json:"chain,omitempty"`
	MerchantAddress  string   `json:"merchant_address,omitempty"`
	PaymentTemplates bool     `json:"payment_templates"`
	WalletSigning    bool     `json:"wallet_signing"`
	Operations       []string `json:"operations"`
}

// Capabilities 返回引擎当前的配置与可用操作。
func (a *Agent) Capabilities() Capabilities {
	limits := a.orders.Limits()
	return Capabilities{
		Name:             "shopmcp",
		Currency:         "USD",
		PegRate:          quote.PegRate.String(),
		QuoteTTLSeconds:  int(quote.TTL.Seconds()),
		MinQuantity:      order.MinQuantity,
		MaxQuantity:      order.MaxQuantity,
		LargeOrderAbove:  limits.LargeOrder.String(),
		HighValueAbove:   limits.HighValue.String(),
		PhraseSetVersion: a.classifier.Version(),
		Chain:            a.chain,
		MerchantAddress:  a.merchant,
		PaymentTemplates: a.requirePayee() == nil,
		WalletSigning:    a.requirePayee() == nil && a.signer != nil,
		Operations: []string{
			"search", "quote", "select", "preview", "confirm", "validate", "place",
			"pay", "verify", "order_status", "purchase", "wallet_link", "wallet_status",
			"wallet_balance", "wallet_sign",
		},
	}
}
