package catalog

import (
	"context"
	"log/slog"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/pkg/logger"
)

// FallbackCatalog 优先访问主目录，主目录不可用时回退到固定数据集。
type FallbackCatalog struct {
	primary  Catalog
	fallback Catalog
}

// NewFallbackCatalog 组合主目录与兜底目录，fallback 为空时使用内置数据集。
func NewFallbackCatalog(primary, fallback Catalog) *FallbackCatalog {
	if fallback == nil {
		fallback = Fallback()
	}
	return &FallbackCatalog{primary: primary, fallback: fallback}
}

// Search 实现 Catalog。
func (c *FallbackCatalog) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	items, err := c.primary.Search(ctx, query, maxResults)
	if err == nil {
		return items, nil
	}
	if !xerrors.IsCategory(err, xerrors.CodeExternalFailure) {
		return nil, err
	}
	logger.L().Warn("商品目录不可用，使用兜底数据", slog.String("query", query), slog.Any("error", err))
	return c.fallback.Search(ctx, query, maxResults)
}

// Lookup 实现 Catalog。
func (c *FallbackCatalog) Lookup(ctx context.Context, ref string) (Item, error) {
	item, err := c.primary.Lookup(ctx, ref)
	if err == nil {
		return item, nil
	}
	if !xerrors.IsCategory(err, xerrors.CodeExternalFailure) {
		return Item{}, err
	}
	logger.L().Warn("商品目录不可用，使用兜底数据", slog.String("ref", ref), slog.Any("error", err))
	return c.fallback.Lookup(ctx, ref)
}

var _ Catalog = (*FallbackCatalog)(nil)
