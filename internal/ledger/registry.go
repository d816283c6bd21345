package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ShopMCP-Chain/internal/config"
)

// Dialer 根据 RPC 地址与链配置创建账本，测试中可替换。
type Dialer func(ctx context.Context, rpcURL string, cfg EVMConfig) (*EVMLedger, error)

// Registry 按链名称管理多个账本实例。
type Registry struct {
	defaultChain string
	ledgers      map[string]*EVMLedger
}

// NewRegistry 加载链配置并创建账本，dial 为空时直接连接 RPC 节点。
func NewRegistry(ctx context.Context, cfg config.LedgerConfig, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEVM
	}
	defs, err := LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	ledgers := make(map[string]*EVMLedger)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll(ledgers)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		l, err := dial(ctx, chain.RPCURL, EVMConfig{
			Name:          name,
			ChainID:       chain.ChainID,
			TokenAddress:  chain.TokenAddress,
			TokenDecimals: chain.TokenDecimals,
		})
		if err != nil {
			closeAll(ledgers)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		ledgers[name] = l
	}

	if len(ledgers) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		l, err := dial(ctx, cfg.RPCURL, EVMConfig{
			Name:          "default",
			TokenAddress:  cfg.TokenAddress,
			TokenDecimals: cfg.TokenDecimals,
		})
		if err != nil {
			return nil, err
		}
		ledgers["default"] = l
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(ledgers) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(ledgers))
		for name := range ledgers {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := ledgers[defaultChain]; !ok {
		closeAll(ledgers)
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, ledgers: ledgers}, nil
}

// Default 返回默认链的账本。
func (r *Registry) Default() (*EVMLedger, error) {
	if r == nil {
		return nil, errors.New("未初始化的账本注册表")
	}
	l, ok := r.ledgers[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return l, nil
}

// Ledger 按名称返回账本。
func (r *Registry) Ledger(name string) (*EVMLedger, bool) {
	if r == nil {
		return nil, false
	}
	l, ok := r.ledgers[name]
	return l, ok
}

// Chains 返回已注册的链名称。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.ledgers))
	for name := range r.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 释放所有账本连接。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.ledgers)
	r.ledgers = map[string]*EVMLedger{}
}

func closeAll(ledgers map[string]*EVMLedger) {
	for _, l := range ledgers {
		l.Close()
	}
}
