package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "ShopMCP-Chain/internal/errors"
)

//go:embed fallback.yaml
var fallbackItems []byte

// StaticCatalog 基于固定商品列表提供检索，文件中的顺序即相关度排序。
type StaticCatalog struct {
	items []Item
}

type fileItem struct {
	Ref         string   `yaml:"ref"`
	Title       string   `yaml:"title"`
	Price       string   `yaml:"price"`
	Rating      float64  `yaml:"rating"`
	ReviewCount int      `yaml:"review_count"`
	Brand       string   `yaml:"brand"`
	InStock     *bool    `yaml:"in_stock"`
	Keywords    []string `yaml:"keywords"`
}

type catalogFile struct {
	Items []fileItem `yaml:"items"`
}

// NewStaticCatalog 用给定商品创建静态目录。
func NewStaticCatalog(items []Item) *StaticCatalog {
	cloned := make([]Item, len(items))
	copy(cloned, items)
	return &StaticCatalog{items: cloned}
}

// Fallback 返回内置的兜底商品集。
func Fallback() *StaticCatalog {
	c, err := decodeStatic(bytes.NewReader(fallbackItems))
	if err != nil {
		panic(fmt.Sprintf("内置兜底商品集无效: %v", err))
	}
	return c
}

// LoadStaticCatalog 从 YAML 文件加载商品。
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("商品目录文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析商品目录路径失败: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取商品目录文件失败: %w", err)
	}
	defer file.Close()
	return decodeStatic(file)
}

func decodeStatic(r io.Reader) (*StaticCatalog, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("解析商品目录失败: %w", err)
	}
	items := make([]Item, 0, len(doc.Items))
	for _, raw := range doc.Items {
		if strings.TrimSpace(raw.Ref) == "" {
			return nil, fmt.Errorf("商品 %q 缺少 ref", raw.Title)
		}
		price, err := decimal.NewFromString(raw.Price)
		if err != nil {
			return nil, fmt.Errorf("商品 %s 的价格无效: %w", raw.Ref, err)
		}
		inStock := true
		if raw.InStock != nil {
			inStock = *raw.InStock
		}
		items = append(items, Item{
			Ref:         raw.Ref,
			Title:       raw.Title,
			UnitPrice:   price,
			Rating:      raw.Rating,
			ReviewCount: raw.ReviewCount,
			Brand:       raw.Brand,
			InStock:     inStock,
			Keywords:    raw.Keywords,
		})
	}
	return NewStaticCatalog(items), nil
}

// Search 返回与 query 中任一词匹配的商品，空查询返回全部。
func (c *StaticCatalog) Search(_ context.Context, query string, maxResults int) ([]Item, error) {
	limit := clampResults(maxResults)
	terms := strings.Fields(strings.ToLower(query))

	results := make([]Item, 0, limit)
	for _, item := range c.items {
		if len(terms) > 0 && !matches(item, terms) {
			continue
		}
		results = append(results, item)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Lookup 按引用查找商品。
func (c *StaticCatalog) Lookup(_ context.Context, ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	for _, item := range c.items {
		if strings.EqualFold(item.Ref, ref) {
			return item, nil
		}
	}
	return Item{}, xerrors.New(CodeItemNotFound, fmt.Sprintf("商品 %s 不存在", ref), xerrors.WithMetadata("ref", ref))
}

func matches(item Item, terms []string) bool {
	haystack := []string{strings.ToLower(item.Title), strings.ToLower(item.Brand), strings.ToLower(item.Ref)}
	for _, keyword := range item.Keywords {
		haystack = append(haystack, strings.ToLower(strings.TrimSpace(keyword)))
	}
	for _, term := range terms {
		for _, field := range haystack {
			if field != "" && strings.Contains(field, term) {
				return true
			}
		}
	}
	return false
}

var _ Catalog = (*StaticCatalog)(nil)
