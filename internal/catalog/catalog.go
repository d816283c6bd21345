// Package catalog 定义商品目录协作方的契约及其实现。
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	xerrors "ShopMCP-Chain/internal/errors"
)

// DefaultMaxResults 是搜索默认返回的条数上限。
const DefaultMaxResults = 10

// Item 是目录中的一件商品。
type Item struct {
	Ref         string          `json:"ref"`
	Title       string          `json:"title"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Rating      float64         `json:"rating"`
	ReviewCount int             `json:"review_count"`
	Brand       string          `json:"brand,omitempty"`
	InStock     bool            `json:"in_stock"`
	Keywords    []string        `json:"keywords,omitempty"`
}

// Catalog 返回按相关度排序的商品，并支持按引用查找。
type Catalog interface {
	Search(ctx context.Context, query string, maxResults int) ([]Item, error)
	Lookup(ctx context.Context, ref string) (Item, error)
}

const (
	CodeItemNotFound xerrors.Code = "ITEM_NOT_FOUND"
	CodeUnavailable  xerrors.Code = "CATALOG_UNAVAILABLE"
)

// ErrItemNotFound 表示商品引用无法解析。
var ErrItemNotFound = xerrors.New(CodeItemNotFound, "item not found")

func init() {
	xerrors.Register(CodeItemNotFound, xerrors.Attributes{
		Message:  "item not found",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeNotFound,
	})
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "catalog unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Category:  xerrors.CodeExternalFailure,
	})
}

func clampResults(maxResults int) int {
	if maxResults <= 0 || maxResults > DefaultMaxResults {
		return DefaultMaxResults
	}
	return maxResults
}
