package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "ShopMCP-Chain/internal/errors"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPConfig 描述远端商品目录服务。
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// Client 可选，便于测试注入。
	Client *http.Client
}

// HTTPCatalog 通过 JSON over HTTP 访问远端商品目录。
//
//	GET {base}/search?q=...&limit=N -> {"items": [...]}
//	GET {base}/items/{ref}          -> Item
type HTTPCatalog struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCatalog 根据配置创建远端目录客户端。
func NewHTTPCatalog(cfg HTTPConfig) (*HTTPCatalog, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("未配置商品目录服务地址")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("商品目录服务地址无效: %w", err)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPCatalog{baseURL: baseURL, httpClient: client}, nil
}

// Search 调用远端检索接口。
func (c *HTTPCatalog) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(clampResults(maxResults)))

	var decoded struct {
		Items []Item `json:"items"`
	}
	if err := c.get(ctx, "/search?"+params.Encode(), &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Items) > clampResults(maxResults) {
		decoded.Items = decoded.Items[:clampResults(maxResults)]
	}
	return decoded.Items, nil
}

// Lookup 调用远端商品详情接口。
func (c *HTTPCatalog) Lookup(ctx context.Context, ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	var item Item
	if err := c.get(ctx, "/items/"+url.PathEscape(ref), &item); err != nil {
		if xerrors.CodeOf(err) == CodeItemNotFound {
			return Item{}, xerrors.New(CodeItemNotFound, fmt.Sprintf("商品 %s 不存在", ref), xerrors.WithMetadata("ref", ref))
		}
		return Item{}, err
	}
	return item, nil
}

func (c *HTTPCatalog) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return xerrors.Wrap(CodeUnavailable, err, "构建商品目录请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeUnavailable, err, "请求商品目录失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return xerrors.New(CodeItemNotFound, "")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(CodeUnavailable,
			fmt.Sprintf("商品目录返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(CodeUnavailable, err, "解析商品目录响应失败")
	}
	return nil
}

var _ Catalog = (*HTTPCatalog)(nil)
