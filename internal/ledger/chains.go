package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chains.yaml 的结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述一条链及其上的稳定币合约。
type ChainDefinition struct {
	Type          string `yaml:"type"`
	ChainID       int64  `yaml:"chain_id"`
	RPCURL        string `yaml:"rpc_url"`
	TokenAddress  string `yaml:"token_address"`
	TokenSymbol   string `yaml:"token_symbol"`
	TokenDecimals *int   `yaml:"token_decimals"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions 解析链配置文件，路径为空时返回空集合。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		if strings.TrimSpace(chain.TokenAddress) != "" && !IsValidAddress(chain.TokenAddress) {
			return ChainDefinitions{}, fmt.Errorf("链 %s 的代币合约地址无效: %s", name, chain.TokenAddress)
		}
	}
	return defs, nil
}
